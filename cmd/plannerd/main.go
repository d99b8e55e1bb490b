package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flitsinc/go-planner/internal/ai"
	"github.com/flitsinc/go-planner/internal/api"
	"github.com/flitsinc/go-planner/internal/config"
	"github.com/flitsinc/go-planner/internal/eventlog"
	"github.com/flitsinc/go-planner/internal/logger"
	"github.com/flitsinc/go-planner/internal/planner"
	"github.com/flitsinc/go-planner/internal/remote"
	"github.com/flitsinc/go-planner/internal/scenario"
	"github.com/flitsinc/go-planner/internal/state"
	"github.com/flitsinc/go-planner/internal/vault"
)

func main() {
	cfg := config.Load()
	slogger := logger.New(cfg.LogLevel, "plannerd")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	db, err := state.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	scn, err := scenario.Load(cfg.ScenarioPath)
	if err != nil {
		log.Fatalf("load scenario: %v", err)
	}
	agent, ok := scn.AgentByID(cfg.AgentID)
	if !ok {
		log.Fatalf("scenario has no agent %q", cfg.AgentID)
	}

	files := vault.NewMemory()
	journal := state.NewJournal(db, slogger)

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	if n, err := journal.LoadAttachments(startCtx, files); err != nil {
		log.Fatalf("restore attachments: %v", err)
	} else if n > 0 {
		slogger.Info("restored attachments", "count", n)
	}

	eventLog := eventlog.New(files)
	if n, err := journal.Restore(startCtx, eventLog); err != nil {
		log.Fatalf("restore event journal: %v", err)
	} else if n > 0 {
		slogger.Info("replayed events", "count", n, "lastSeq", eventLog.LastSeq())
	}
	eventLog.OnEmit(journal.Append)

	llmClient, err := ai.NewClient(ai.Config{
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		APIKey:   cfg.LLMAPIKey,
	})
	if err != nil {
		log.Fatalf("llm client: %v", err)
	}
	oracle := ai.NewSynthesizer(llmClient)

	var task planner.TaskClient
	if cfg.RemoteURL != "" {
		wsClient, err := remote.Dial(startCtx, cfg.RemoteURL, slogger)
		if err != nil {
			log.Fatalf("connect remote: %v", err)
		}
		defer wsClient.Close()
		task = wsClient
	} else {
		slogger.Warn("no remote configured, remote sends will fail")
		task = remote.Disconnected{}
	}

	loop := planner.New(eventLog, files, scn, agent, llmClient, oracle, task,
		planner.WithLogger(slogger),
		planner.WithToolRestrictions(cfg.ToolRestrictions),
		planner.WithInstructions(cfg.Instructions),
	)
	loop.Start(context.Background())
	defer loop.Stop()

	apiServer := &api.Server{
		Log:       eventLog,
		Planner:   loop,
		Vault:     files,
		Logger:    slogger,
		StartedAt: time.Now().UTC(),
		Persist:   journal.SaveAttachment,
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	httpServer := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slogger.Info("plannerd listening", "addr", listener.Addr().String(), "agent", agent.AgentID)
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slogger.Error("server shutdown", "error", err)
	}
	_ = httpServer.Close()
}
