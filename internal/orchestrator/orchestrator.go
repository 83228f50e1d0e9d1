// Package orchestrator drives a complex-task request through the
// Reuse-Lookup → (Plan | Fast-Path) → Execute → (Success | Fail) state
// machine: it looks for a previously distilled workflow before planning
// from scratch, executes the resulting steps against the subagent
// registry with per-step parameter repair, and on success distills the
// plan into M3 so a similar future goal can skip planning entirely.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"memfuse/internal/agent"
	"memfuse/internal/config"
	"memfuse/internal/embedding"
	"memfuse/internal/store"
)

// WorkflowStore is the subset of *store.Store the orchestrator needs,
// narrowed so a fake can stand in for it in tests without a live
// Postgres connection.
type WorkflowStore interface {
	MatchWorkflow(ctx context.Context, goalEmbedding []float32) (store.Workflow, float64, bool, error)
	RecordWorkflowReuse(ctx context.Context, workflowID string) error
	SaveWorkflow(ctx context.Context, w store.Workflow, triggerEmbedding []float32) (store.Workflow, error)
	RecordLesson(ctx context.Context, l store.Lesson, goalEmbedding []float32) (store.Lesson, error)
	RelevantLessons(ctx context.Context, agent string, goalEmbedding []float32, k int) ([]store.Lesson, error)
	AppendTurn(ctx context.Context, sessionID string, speaker store.Speaker, content, tenant string) (store.Turn, error)
}

// textEmbedder is the same seam extractor.Runner is built against, so
// Orchestrator can be exercised in tests with a fake instead of a live
// embedding endpoint.
type textEmbedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type httpEmbedder struct{ cfg config.EmbeddingConfig }

func (e httpEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return embedding.EmbedText(ctx, e.cfg, inputs)
}

// StepResult is emitted to an optional observer as each step completes,
// mirroring the teacher's OnAssistant/OnTool callback style so a caller
// can stream progress on a long-running multi-step plan without changing
// Run's success/fail semantics.
type StepResult struct {
	Step   agent.Step
	Output any
	Err    error
}

// Request is one task-mode goal to execute for a session.
type Request struct {
	SessionID string
	UserID    string
	Tenant    string
	Goal      string
	// OnStep, if set, is called once per step after its last attempt,
	// repairs included (success or failure), before a failed step fails
	// the task.
	OnStep func(StepResult)
}

// Result is what Run returns on either branch of the terminal state.
type Result struct {
	Output     string
	FastPath   bool
	WorkflowID string
	Steps      []StepResult
}

// Orchestrator wires the planner, subagent registry, and workflow/lesson
// store together into the task state machine.
type Orchestrator struct {
	planner  agent.Planner
	registry *agent.Registry
	store    WorkflowStore
	embedder textEmbedder
	llm      *openai.Client
	model    string

	executor agent.Executor
	memory   agent.Memory
	tracer   agent.Tracer
	critic   agent.Critic

	reuseThreshold   float64
	distillThreshold float64
	stepRetries      int
}

// recentStepMemoryWindow bounds the in-process step-outcome memory fed
// back into planning as relMem: recent enough to matter, small enough
// that Recall's linear scan stays cheap.
const recentStepMemoryWindow = 50

// New builds an Orchestrator. planner and registry are the teacher's own
// agent.Planner/agent.Registry contracts; repair prompts go through a
// direct OpenAI-compatible JSON-mode client, the same pattern already
// established by agent.LLMPlanner and extractor.Runner. Step execution,
// process-local working memory, span tracing, and failure classification
// reuse the teacher's agent.ConcurrentExecutor, agent.RingMemory,
// agent.OTELTracer, and agent.LLMCritic rather than reimplementing their
// equivalents inline.
func New(planner agent.Planner, registry *agent.Registry, st WorkflowStore, embedCfg config.EmbeddingConfig, llmCfg config.LLMConfig, reuseThreshold, distillThreshold float64, stepRetries int) *Orchestrator {
	cfg := openai.DefaultConfig(llmCfg.APIKey)
	if llmCfg.BaseURL != "" {
		cfg.BaseURL = llmCfg.BaseURL
	}
	model := llmCfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	if stepRetries <= 0 {
		stepRetries = 2
	}
	return &Orchestrator{
		planner:          planner,
		registry:         registry,
		store:            st,
		embedder:         httpEmbedder{cfg: embedCfg},
		llm:              openai.NewClientWithConfig(cfg),
		model:            model,
		executor:         &agent.ConcurrentExecutor{Registry: registry},
		memory:           agent.NewRingMemory(recentStepMemoryWindow),
		tracer:           agent.NewOTELTracer(),
		critic:           agent.NewLLMCritic(),
		reuseThreshold:   reuseThreshold,
		distillThreshold: distillThreshold,
		stepRetries:      stepRetries,
	}
}

// Run executes the full state machine for one goal.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	goalEmbeddings, err := o.embedder.Embed(ctx, []string{req.Goal})
	if err != nil {
		return Result{}, fmt.Errorf("orchestrator: embed goal: %w", err)
	}
	goalEmbedding := goalEmbeddings[0]

	plan, fastPath, workflowID, err := o.reuseLookupOrPlan(ctx, req.Goal, goalEmbedding)
	if err != nil {
		return Result{}, err
	}

	results, output, execErr := o.execute(ctx, req, plan, goalEmbedding)
	if execErr != nil {
		o.recordFailure(ctx, req.Goal, results, execErr)
		return Result{Steps: results, FastPath: fastPath, WorkflowID: workflowID}, execErr
	}

	if fastPath {
		if err := o.store.RecordWorkflowReuse(ctx, workflowID); err != nil {
			return Result{}, fmt.Errorf("orchestrator: record workflow reuse: %w", err)
		}
	} else {
		if id, err := o.distill(ctx, req.Goal, goalEmbedding, plan); err != nil {
			// Distillation failure doesn't fail a successful task; the
			// plan simply isn't reusable next time.
			workflowID = ""
		} else {
			workflowID = id
		}
	}

	if _, err := o.store.AppendTurn(ctx, req.SessionID, store.SpeakerAssistant, output, req.Tenant); err != nil {
		return Result{}, fmt.Errorf("orchestrator: persist turn: %w", err)
	}

	return Result{Output: output, FastPath: fastPath, WorkflowID: workflowID, Steps: results}, nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, goal string, results []StepResult, execErr error) {
	goalEmbeddings, err := o.embedder.Embed(ctx, []string{goal})
	if err != nil {
		return
	}
	agentName := ""
	if len(results) > 0 {
		agentName = results[len(results)-1].Step.Tool
	}
	_, _ = o.store.RecordLesson(ctx, store.Lesson{
		LessonID: uuid.NewString(),
		GoalText: goal,
		Agent:    agentName,
		Status:   store.LessonFail,
		Error:    execErr.Error(),
	}, goalEmbeddings[0])
}
