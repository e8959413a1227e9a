package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"demo-chatter/internal/analytics"
	"demo-chatter/internal/config"
	"demo-chatter/internal/llm"
	"demo-chatter/internal/scheduler"
	"demo-chatter/internal/storage"
	"demo-chatter/internal/store"
	"demo-chatter/internal/webserver"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Warn(".env file not found", "error", err)
	}

	cfg := config.New()
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := storage.Open(cfg.StorageBackend, cfg.DataDir, logger)
	if err != nil {
		logger.Fatal("failed to open storage", "backend", cfg.StorageBackend, "error", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	rules, err := llm.LoadRules(cfg.ReplyRulesPath)
	if err != nil {
		logger.Fatal("failed to load reply rules", "path", cfg.ReplyRulesPath, "error", err)
	}

	// replies must outlive the signal context until Close cancels them
	st, err := store.Open(context.Background(), store.Options{
		Storage: kv,
		Client:  llm.NewCanned(rules),
		Delay:   store.UniformDelay(cfg.ReplyDelayMin, cfg.ReplyDelayMax),
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("failed to open conversation store", "error", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to persist final state", "error", err)
		}
	}()

	sched := scheduler.New(cfg.ReportSchedule, logger)
	sched.SetReportFunction(analytics.NewDailyReport(
		st.Conversations,
		logger,
		func() time.Time { return time.Now().UTC() },
	))
	if err := sched.Start(); err != nil {
		logger.Fatal("failed to start scheduler", "error", err)
	}
	defer sched.Stop()

	ws := webserver.New(st, webserver.Options{
		Addr:      cfg.ListenAddr,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Reports:   sched,
		Logger:    logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- ws.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("web server failed", "error", err)
		}
	}

	if err := ws.Stop(); err != nil {
		logger.Error("failed to stop web server", "error", err)
	}
	logActive(logger, st)
}

func logActive(logger *log.Logger, st *store.Store) {
	c, ok := st.ActiveConversation()
	if !ok {
		return
	}
	logger.Info("active conversation at shutdown", "id", c.ID, "title", c.Title, "messages", len(c.Messages))
}
