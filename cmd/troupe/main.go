package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/troupehq/troupe/internal/bus"
	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/engine"
	"github.com/troupehq/troupe/internal/gateway"
	"github.com/troupehq/troupe/internal/registry"
	"github.com/troupehq/troupe/internal/scheduler"
	"github.com/troupehq/troupe/internal/store"
	"github.com/troupehq/troupe/internal/vault"
	"github.com/troupehq/troupe/internal/web"
	"github.com/troupehq/troupe/internal/workflow"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("troupe %s\n", version)
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("serve failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: troupe <command>\n\nCommands:\n  serve      Start the orchestration service\n  backup     Archive the data directory to a .tar.zst file\n  restore    Restore the data directory from a backup\n  version    Print version\n")
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting troupe", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	natsSrv, err := bus.NewServer(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer natsSrv.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	events, err := bus.NewClient(natsSrv)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer events.Close()

	// Credential vault
	var vlt *vault.Vault
	if cfg.Vault.Passphrase != "" {
		vlt = vault.New(cfg.Vault.Passphrase)
	} else {
		slog.Warn("vault passphrase not set, tool credentials are not persisted")
	}

	// Agent registry and tool gateway
	reg := registry.New(db)
	gwOpts := []gateway.Option{gateway.WithStore(db)}
	if vlt != nil {
		gwOpts = append(gwOpts, gateway.WithVault(vlt))
	}
	gw := gateway.New(cfg.Gateway, gwOpts...)

	// Workflow manager and execution engine
	mgr := workflow.NewManager()
	mail := bus.NewMailboxes(events)
	eng := engine.New(reg, gw, mail,
		engine.WithEvents(events),
		engine.WithStore(db),
		engine.WithInvokeTimeout(cfg.Engine.InvokeTimeout),
	)

	// Scheduler
	sched := scheduler.New(db, mgr, eng, events, cfg.Scheduler)
	go sched.Start(ctx)

	// Web API
	if cfg.Web.Enabled {
		srv := web.NewServer(reg, gw, mgr, eng, db, natsSrv, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	return nil
}
