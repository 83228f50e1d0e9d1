package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"memfuse/internal/agent"
	"memfuse/internal/store"
)

// repairParamsSystemPrompt asks the model to fix one step's arguments after
// an execution failure, returning a single corrected args object.
const repairParamsSystemPrompt = `You are repairing the arguments for one failed task step. You will be given the step's description, its tool, the arguments that failed, and the error. Return ONLY a corrected JSON object of arguments for the same tool — no prose, no markdown fences.`

// execute is the Execute state: steps run sequentially, each receiving
// earlier steps' outputs in the named slots its args reference. A step
// failure triggers parameter repair, retried up to stepRetries times
// before the task fails.
func (o *Orchestrator) execute(ctx context.Context, req Request, plan []agent.Step, goalEmbedding []float32) ([]StepResult, string, error) {
	results := make([]StepResult, 0, len(plan))
	outputs := make(map[string]string, len(plan))
	var lastOutput string

	for _, step := range plan {
		step.Args = resolveStepSlots(step.Args, outputs)

		stepCtx, end := o.startStepSpan(ctx, step)
		var output any
		var err error
		var lastFailure error
		repairedStep := false
		for attempt := 0; attempt <= o.stepRetries; attempt++ {
			output, err = o.runStep(stepCtx, req, step)
			if err == nil {
				break
			}
			lastFailure = err
			if attempt == o.stepRetries {
				break
			}
			if !o.shouldRepair(stepCtx, step, output, err) {
				break
			}
			repaired, rerr := o.repairParams(stepCtx, step, err, goalEmbedding)
			if rerr != nil {
				break
			}
			step.Args = repaired
			repairedStep = true
		}
		end(err)

		sr := StepResult{Step: step, Output: output, Err: err}
		results = append(results, sr)
		o.remember(ctx, sr)
		if err == nil && repairedStep {
			o.recordRepairSuccess(ctx, req.Goal, step, lastFailure, goalEmbedding)
		}
		if req.OnStep != nil {
			req.OnStep(sr)
		}
		if err != nil {
			return results, "", newLogicError(fmt.Sprintf("orchestrator: step %q failed after repair attempts: %v", step.ID, err), err)
		}

		outputs[step.ID] = stringify(output)
		lastOutput = stringify(output)
	}

	return results, lastOutput, nil
}

func (o *Orchestrator) runStep(ctx context.Context, req Request, step agent.Step) (any, error) {
	args := make(map[string]any, len(step.Args)+2)
	for k, v := range step.Args {
		args[k] = v
	}
	args["__session_id"] = req.SessionID
	args["__user_id"] = req.UserID
	step.Args = args
	return o.executor.Execute(ctx, step)
}

// startStepSpan opens a trace span for one step's execution (including
// any repair retries), returning the context to run the step under and
// an end func to close the span with the step's final error.
func (o *Orchestrator) startStepSpan(ctx context.Context, step agent.Step) (context.Context, func(error)) {
	if o.tracer == nil {
		return ctx, func(error) {}
	}
	return o.tracer.Start(ctx, "orchestrator.step", map[string]any{
		"step_id": step.ID, "tool": step.Tool,
	})
}

// shouldRepair asks the critic whether a failed step is worth the
// (comparatively expensive) LLM argument-repair call, a cheap first pass
// in front of repairParams.
func (o *Orchestrator) shouldRepair(ctx context.Context, step agent.Step, output any, execErr error) bool {
	if o.critic == nil {
		return true
	}
	trace := []agent.Interaction{{Step: step, Observation: agent.Observation{Step: step, Output: output, Err: execErr}}}
	critique, err := o.critic.Critique(ctx, trace)
	if err != nil {
		return true
	}
	return critique.Action == "revise"
}

// remember appends a step's outcome to the orchestrator's process-local
// working memory, so a later goal's planFresh call sees what similar
// steps did in this process's recent past.
func (o *Orchestrator) remember(ctx context.Context, sr StepResult) {
	if o.memory == nil {
		return
	}
	_ = o.memory.Store(ctx, agent.MemoryItem{
		Step:        sr.Step,
		Observation: agent.Observation{Step: sr.Step, Output: sr.Output, Err: sr.Err},
	})
}

func (o *Orchestrator) repairParams(ctx context.Context, step agent.Step, execErr error, goalEmbedding []float32) (map[string]any, error) {
	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	user := fmt.Sprintf("Step: %s\nTool: %s\nArgs: %s\nError: %v%s", step.Description, step.Tool, toJSON(step.Args), execErr, o.lessonsPrefix(ctx, step.Tool, goalEmbedding))
	resp, err := o.llm.CreateChatCompletion(cctx, openai.ChatCompletionRequest{
		Model:          o.model,
		Temperature:    0,
		MaxTokens:      512,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: repairParamsSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repair params: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("repair params: empty completion")
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &args); err != nil {
		return nil, fmt.Errorf("repair params: malformed JSON: %w", err)
	}
	return args, nil
}

// recordRepairSuccess writes a success lesson when a step only succeeded
// after at least one parameter repair, so later planning/repair for the
// same subagent and a similar goal is biased toward the params that
// ultimately worked rather than the ones that failed first.
func (o *Orchestrator) recordRepairSuccess(ctx context.Context, goal string, step agent.Step, lastFailure error, goalEmbedding []float32) {
	if o.store == nil || goalEmbedding == nil {
		return
	}
	workingParams, err := json.Marshal(step.Args)
	if err != nil {
		return
	}
	errText := ""
	if lastFailure != nil {
		errText = lastFailure.Error()
	}
	_, _ = o.store.RecordLesson(ctx, store.Lesson{
		LessonID:      uuid.NewString(),
		GoalText:      goal,
		Agent:         step.Tool,
		Status:        store.LessonSuccess,
		Error:         errText,
		FixSummary:    fmt.Sprintf("step %q (%s) recovered via parameter repair after: %v", step.Description, step.Tool, lastFailure),
		WorkingParams: workingParams,
	}, goalEmbedding)
}

// lessonsPrefix surfaces prior failures (and their fixes) recorded for
// this same subagent against a similar goal, so the repair model can
// steer away from a mistake it's already made instead of rediscovering
// it step by step.
func (o *Orchestrator) lessonsPrefix(ctx context.Context, agentName string, goalEmbedding []float32) string {
	if o.store == nil || agentName == "" || goalEmbedding == nil {
		return ""
	}
	lessons, err := o.store.RelevantLessons(ctx, agentName, goalEmbedding, 3)
	if err != nil || len(lessons) == 0 {
		return ""
	}
	return "\n\nPrior lessons for this subagent on similar goals:\n" + toJSON(lessons)
}
