package subagents

import (
	"memfuse/internal/agent"
	"memfuse/internal/config"
	"memfuse/internal/llm"
)

// Deps bundles the collaborators the concrete subagents need.
type Deps struct {
	Recaller     Recaller
	FactSearcher FactSearcher
	ChatProvider llm.Provider
	ChatModel    string
	Searcher     Searcher // nil uses StubSearcher
	Shell        config.ShellConfig
	DefaultTopK  int
}

// RegisterAll wires every concrete subagent into reg under the tool name
// the planner/orchestrator reference in Step.Tool.
func RegisterAll(reg *agent.Registry, d Deps) {
	reg.Register("rag_query", NewRAGQueryTool(d.Recaller, d.DefaultTopK))
	reg.Register("db_query", NewDBQueryTool(d.FactSearcher, d.DefaultTopK))
	reg.Register("report_gen", NewReportGenTool(d.ChatProvider, d.ChatModel))
	reg.Register("web_search", NewWebSearchTool(d.Searcher, d.DefaultTopK))
	reg.Register("shell", NewShellTool(d.Shell))
}
