// Taskchat is a multi-user todo service with a conversational assistant.
//
// It serves a JSON API for account management and task CRUD, plus a chat
// endpoint where a hosted language model manages the caller's task list
// through server-side tools. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]); the
// OpenAI API key and JWT signing secret may also come from the
// environment or a .env file.
//
// Usage:
//
//	taskchat                   Start the server
//	taskchat -config FILE      Start with an explicit config file
//	taskchat -version          Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/colmb/taskchat/internal/agent"
	"github.com/colmb/taskchat/internal/api"
	"github.com/colmb/taskchat/internal/auth"
	"github.com/colmb/taskchat/internal/buildinfo"
	"github.com/colmb/taskchat/internal/config"
	"github.com/colmb/taskchat/internal/llm"
	"github.com/colmb/taskchat/internal/store"
	"github.com/colmb/taskchat/internal/tools"
)

// main constructs the OS-level environment and delegates to [run] so the
// startup-to-shutdown lifecycle stays testable.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package's package-level state gets in the way of calling run()
// concurrently from tests, and the surface here is two flags.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-version" || args[i] == "--version":
			fmt.Fprintln(stdout, buildinfo.String())
			return nil
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			fmt.Fprintln(stdout, "usage: taskchat [-config FILE] [-version]")
			return nil
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("starting taskchat",
		"version", buildinfo.Version,
		"config", cfgPath,
		"database", cfg.Database.Path,
		"model", cfg.OpenAI.Model,
	)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	tokens := auth.NewTokens(cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.TokenTTLDays)*24*time.Hour)
	model := llm.NewOpenAIClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model, logger)
	registry := tools.NewRegistry(st, logger)
	loop := agent.New(model, registry, cfg.Agent.MaxRounds, logger)
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port,
		st, tokens, loop, cfg.Agent.HistoryWindow, logger)

	// SIGINT/SIGTERM cancellation flows through the same ctx used by all
	// components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("taskchat stopped")
	return nil
}
