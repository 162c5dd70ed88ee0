package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/asktoai/internal/agent"
	"github.com/dgnsrekt/asktoai/internal/api"
	"github.com/dgnsrekt/asktoai/internal/browser"
	"github.com/dgnsrekt/asktoai/internal/cdpcontrol"
	"github.com/dgnsrekt/asktoai/internal/config"
	"github.com/dgnsrekt/asktoai/internal/controller"
	"github.com/dgnsrekt/asktoai/internal/delivery"
	"github.com/dgnsrekt/asktoai/internal/events"
	"github.com/dgnsrekt/asktoai/internal/netutil"
	"github.com/dgnsrekt/asktoai/internal/notify"
	"github.com/dgnsrekt/asktoai/internal/pagectx"
	"github.com/dgnsrekt/asktoai/internal/preference"
	"github.com/dgnsrekt/asktoai/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("asktoai config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.CDPURL(),
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
		"db_path", cfg.DBPath,
		"services_config", cfg.ServicesConfig,
		"launch_browser", cfg.LaunchBrowser,
	)

	table, err := services.LoadFile(cfg.ServicesConfig)
	if err != nil {
		slog.Error("failed to load services", "path", cfg.ServicesConfig, "error", err)
		os.Exit(1)
	}

	if cfg.LaunchBrowser {
		startURL := ""
		if svc, err := table.Lookup(services.DefaultKey); err == nil {
			startURL = svc.URL
		}
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.ProfileDir,
			StartURL:   startURL,
		})
		if err := launcher.Launch(context.Background()); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	bindAddr := ln.Addr().String()

	cdpClient := cdpcontrol.NewClient(cfg.CDPURL(), cfg.EvalTimeout())
	if err := cdpClient.Connect(context.Background()); err != nil {
		slog.Error("failed to connect CDP", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cdpClient.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()

	reader := pagectx.NewReader(cdpClient, cfg.EvalTimeout())

	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("failed to create data dir", "dir", dir, "error", err)
			os.Exit(1)
		}
	}
	prefs, err := preference.Open(cfg.DBPath, services.DefaultKey)
	if err != nil {
		slog.Error("failed to open preference store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := prefs.Close(); err != nil {
			slog.Debug("preference store close failed", "error", err)
		}
	}()

	orch := delivery.NewOrchestrator(cdpClient, table, delivery.Config{
		PollInterval:       cfg.PollInterval(),
		SettleShort:        cfg.SettleShort(),
		SettleLong:         cfg.SettleLong(),
		RetryDelay:         cfg.RetryDelay(),
		RestrictedPrefixes: cfg.RestrictedPrefixes,
		AgentSource:        agent.Source(),
	})

	broker := events.NewBroker()
	var notifier controller.Notifier
	if n := notify.New(&http.Client{Timeout: 10 * time.Second}, cfg.NTFYEndpoint); n != nil {
		notifier = n
	}

	svc := controller.NewService(cdpClient, orch, reader, prefs, table, broker, notifier, controller.Options{
		ShareURL: cfg.ShareURL,
		RateURL:  cfg.RateURL,
	})
	svc.Install(context.Background())

	srv := &http.Server{Handler: api.NewServer(svc, broker)}

	go func() {
		slog.Info("asktoai listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("asktoai server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("asktoai shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
