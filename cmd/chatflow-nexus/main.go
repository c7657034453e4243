// Command chatflow-nexus is the main entry point for the realtime voice
// chat gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cnwinds/chatflow-nexus/internal/app"
	"github.com/cnwinds/chatflow-nexus/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "chatflow-nexus: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "chatflow-nexus: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := app.NewLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("chatflow-nexus starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	// ── Application wiring ────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if err := application.StartWatcher(*configPath); err != nil {
		slog.Warn("config hot-reload disabled", "err", err)
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║     chatflow-nexus — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printCount("VAD modules", len(cfg.Modules.VAD))
	printCount("ASR modules", len(cfg.Modules.ASR))
	printCount("LLM modules", len(cfg.Modules.LLM))
	printCount("TTS modules", len(cfg.Modules.TTS))
	printCount("Memory modules", len(cfg.Modules.Memory))
	printCount("Intent modules", len(cfg.Modules.Intent))
	printCount("Agents configured", len(cfg.Agents))
	printCount("MCP servers", len(cfg.MCP.Servers))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printCount(label string, n int) {
	fmt.Printf("║  %-16s : %-19d ║\n", label, n)
}
