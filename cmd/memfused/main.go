// Command memfused is the MemFuse process: it wires the context
// controller, layered memory store, hybrid retriever, extractor
// pipeline, and task orchestrator together behind a single HTTP entry
// point that resolves a caller's session and dispatches chat or task
// turns, per the router's own responsibility.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"memfuse/internal/agent"
	"memfuse/internal/config"
	"memfuse/internal/contextctl"
	"memfuse/internal/embedding"
	"memfuse/internal/extractor"
	"memfuse/internal/llm"
	"memfuse/internal/observability"
	"memfuse/internal/orchestrator"
	"memfuse/internal/queue"
	"memfuse/internal/retriever"
	"memfuse/internal/router"
	"memfuse/internal/session"
	"memfuse/internal/store"
	"memfuse/internal/subagents"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("MEMFUSE_CONFIG_PATH")
	bootstrapCfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(bootstrapCfg.LogPath, bootstrapCfg.LogLevel)
	cfg := bootstrapCfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = nil
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	llm.ConfigureLogging(cfg.LogPayloads, cfg.OutputTruncateByte)

	httpClient := observability.NewHTTPClient(nil)

	st, err := store.Open(ctx, cfg.Store, config.EmbeddingDimension)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}

	chatProvider, err := llm.NewProvider(cfg.LLM, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct llm provider")
	}

	embedCache := embedding.NewCache(cfg.Embedding)
	recaller := retriever.New(st, cfg.Embedding, embedCache)

	tokenCache := llm.NewTokenCache(llm.TokenCacheConfig{})
	composer := contextctl.New(tokenCache)

	registry := agent.NewRegistry()
	subagents.RegisterAll(registry, subagents.Deps{
		Recaller:     recaller,
		FactSearcher: st,
		ChatProvider: chatProvider,
		ChatModel:    cfg.LLM.Model,
		Shell:        cfg.Shell,
		DefaultTopK:  cfg.RAGTopK,
	})

	planner := agent.NewLLMPlanner(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, registry.Spec())

	orch := orchestrator.New(planner, registry, st, cfg.Embedding, cfg.LLM,
		cfg.ProceduralReuseThreshold, cfg.WorkflowDistillSimThreshold, cfg.StepRetries)

	locks := session.New()
	resolver := session.NewResolver(st, locks)

	var trigger router.RoundTrigger = noopTrigger{}
	if cfg.ExtractorEnabled {
		if err := queue.DialBrokers(ctx, cfg.Queue.KafkaBrokers, 30*time.Second); err != nil {
			log.Fatal().Err(err).Msg("extractor queue brokers unreachable")
		}
		if err := queue.EnsureTopics(ctx, cfg.Queue.KafkaBrokers, []kafka.TopicConfig{
			{Topic: cfg.Queue.JobsTopic, NumPartitions: 1, ReplicationFactor: 1},
			{Topic: cfg.Queue.ResultsTopic, NumPartitions: 1, ReplicationFactor: 1},
		}); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure extractor queue topics")
		}

		producer := &kafka.Writer{
			Addr:     kafka.TCP(cfg.Queue.KafkaBrokers...),
			Topic:    cfg.Queue.JobsTopic,
			Balancer: &kafka.LeastBytes{},
		}
		defer producer.Close()

		realTrigger := extractor.NewTrigger(producer, cfg.Queue.JobsTopic, st,
			cfg.ExtractorTriggerTokensSingle, cfg.ExtractorTriggerTokensBatch)
		trigger = realTrigger

		runner := extractor.NewRunner(st, cfg.Embedding, cfg.LLM, cfg.ExtractorContextFacts,
			cfg.DedupSimThreshold, cfg.ContradictionSimThreshold)

		dedupe, err := queue.NewRedisDedupeStore(cfg.Queue.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to construct redis dedupe store")
		}

		worker := &queue.Worker{
			Brokers:     cfg.Queue.KafkaBrokers,
			GroupID:     "memfuse-extractor",
			JobsTopic:   cfg.Queue.JobsTopic,
			ResultTopic: cfg.Queue.ResultsTopic,
			WorkerCount: cfg.Queue.WorkerCount,
			MaxAttempts: cfg.ExtractorMaxAttempts,
		}
		resultsProducer := &kafka.Writer{
			Addr:     kafka.TCP(cfg.Queue.KafkaBrokers...),
			Topic:    cfg.Queue.ResultsTopic,
			Balancer: &kafka.LeastBytes{},
		}
		defer resultsProducer.Close()

		go func() {
			if err := worker.Run(ctx, runner, dedupe, resultsProducer); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("extractor worker stopped")
			}
		}()
	}

	r := router.New(router.Deps{
		Resolver:  resolver,
		Locks:     locks,
		Retriever: recaller,
		Composer:  composer,
		ChatLLM:   chatProvider,
		ChatModel: cfg.LLM.Model,
		Store:     st,
		Trigger:   trigger,
		Tokenizer: llm.NewCLTokenizer(),
		Task:      orch,
		Cfg:       cfg,
	})

	srv := &http.Server{
		Addr:    addr(),
		Handler: newMux(r),
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("memfused listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func addr() string {
	if a := os.Getenv("MEMFUSE_HTTP_ADDR"); a != "" {
		return a
	}
	return ":8088"
}

// noopTrigger stands in for the extractor trigger when extraction is
// disabled, so the router's dependency is never nil.
type noopTrigger struct{}

func (noopTrigger) OnRoundComplete(context.Context, string, int, int) error { return nil }

func newMux(r *router.Router) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintln(w, "ready")
	})
	mux.HandleFunc("/v1/turn", func(w http.ResponseWriter, req *http.Request) {
		handleTurn(r, w, req)
	})
	return mux
}

type turnRequest struct {
	ExternalSessionID string `json:"external_session_id"`
	UserID            string `json:"user_id"`
	Tenant            string `json:"tenant"`
	Text              string `json:"text"`
	Tag               string `json:"tag"`
}

type turnResponse struct {
	Mode       string `json:"mode"`
	SessionID  string `json:"session_id"`
	ChatReply  string `json:"chat_reply,omitempty"`
	TaskOutput string `json:"task_output,omitempty"`
}

func handleTurn(r *router.Router, w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body turnRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if body.Text == "" || body.ExternalSessionID == "" {
		http.Error(w, "external_session_id and text are required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Minute)
	defer cancel()

	resp, err := r.Handle(ctx, router.Request{
		ExternalSessionID: body.ExternalSessionID,
		UserID:            body.UserID,
		Tenant:            body.Tenant,
		Text:              body.Text,
		Tag:               body.Tag,
	})
	if err != nil {
		log.Error().Err(err).Msg("turn handling failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	out := turnResponse{Mode: string(resp.Mode), SessionID: resp.SessionID, ChatReply: resp.ChatReply}
	if resp.Mode == router.ModeTask {
		out.TaskOutput = resp.TaskResult.Output
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
