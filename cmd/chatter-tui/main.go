package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"demo-chatter/internal/config"
	"demo-chatter/internal/llm"
	"demo-chatter/internal/storage"
	"demo-chatter/internal/store"
	"demo-chatter/internal/tui"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Debug(".env file not found", "error", err)
	}

	cfg := config.New()
	logger := cfg.NewLogger()

	// the terminal belongs to the UI; logs go to a file next to the data
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal("failed to create data dir", "error", err)
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "chatter-tui.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Fatal("failed to open log file", "error", err)
	}
	defer logFile.Close()
	logger.SetOutput(logFile)

	kv, err := storage.Open(cfg.StorageBackend, cfg.DataDir, logger)
	if err != nil {
		logger.Fatal("failed to open storage", "backend", cfg.StorageBackend, "error", err)
	}
	defer kv.Close()

	rules, err := llm.LoadRules(cfg.ReplyRulesPath)
	if err != nil {
		logger.Fatal("failed to load reply rules", "path", cfg.ReplyRulesPath, "error", err)
	}

	st, err := store.Open(context.Background(), store.Options{
		Storage: kv,
		Client:  llm.NewCanned(rules),
		Delay:   store.UniformDelay(cfg.ReplyDelayMin, cfg.ReplyDelayMax),
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("failed to open conversation store", "error", err)
	}

	runErr := tui.Run(st)
	if err := st.Close(); err != nil {
		logger.Error("failed to persist final state", "error", err)
	}
	if runErr != nil {
		logger.Error("terminal UI failed", "error", runErr)
		os.Exit(1)
	}
}
