package subagents

import (
	"memfuse/internal/agent"
)

var (
	_ agent.Tool = (*RAGQueryTool)(nil)
	_ agent.Tool = (*DBQueryTool)(nil)
	_ agent.Tool = (*ReportGenTool)(nil)
	_ agent.Tool = (*WebSearchTool)(nil)
	_ agent.Tool = (*ShellTool)(nil)
)
