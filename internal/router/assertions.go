package router

import (
	"memfuse/internal/contextctl"
	"memfuse/internal/extractor"
	"memfuse/internal/orchestrator"
	"memfuse/internal/retriever"
	"memfuse/internal/store"
)

// Compile-time assertions that the real production types satisfy the
// narrowed interfaces this package tests against.
var (
	_ ChatStore       = (*store.Store)(nil)
	_ TaskRunner      = (*orchestrator.Orchestrator)(nil)
	_ RoundTrigger    = (*extractor.Trigger)(nil)
	_ Recaller        = (*retriever.Retriever)(nil)
	_ ContextComposer = (*contextctl.Composer)(nil)
)
