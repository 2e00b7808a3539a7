package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/portalwatch/internal/agent"
	"git.home.luguber.info/inful/portalwatch/internal/config"
	"git.home.luguber.info/inful/portalwatch/internal/version"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"portalwatch.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Watch struct {
		NoReload bool `help:"Disable configuration hot-reload"`
	} `cmd:"" help:"Watch the portal session and keep local entity state fresh"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Status struct {
		Addr string `help:"Agent API address (defaults to the configured server.addr)"`
	} `cmd:"" help:"Query a running agent's health endpoint"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	var err error
	switch ctx.Command() {
	case "watch":
		err = runWatch()
	case "init":
		err = config.Init(CLI.Config, CLI.Init.Force)
	case "status":
		err = runStatus()
	case "version":
		fmt.Printf("portalwatch %s (commit %s, built %s)\n",
			version.Version, version.GitCommit, version.BuildTime)
	}
	if err != nil {
		slog.Error("Command failed", "command", ctx.Command(), "error", err)
		os.Exit(1)
	}
}

func runWatch() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	setupLogging(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := agent.New(cfg)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	if !CLI.Watch.NoReload {
		cw, err := agent.NewConfigWatcher(CLI.Config, a)
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		if err := cw.Start(ctx); err != nil {
			return fmt.Errorf("start config watcher: %w", err)
		}
		defer cw.Stop()
	}

	slog.Info("Agent started, waiting for shutdown signal",
		"addr", cfg.Server.Addr, "poll_interval", cfg.Poll.Interval)
	return a.Run(ctx)
}

func runStatus() error {
	addr := CLI.Status.Addr
	if addr == "" {
		cfg, err := config.Load(CLI.Config)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		addr = cfg.Server.Addr
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		return fmt.Errorf("agent not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent unhealthy: status %d: %s", resp.StatusCode, body)
	}

	var health struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	fmt.Printf("status: %s\nuptime: %s\n", health.Status, health.Uptime)
	return nil
}

func setupLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case config.LogLevelDebug:
		level = slog.LevelDebug
	case config.LogLevelWarn:
		level = slog.LevelWarn
	case config.LogLevelError:
		level = slog.LevelError
	}
	if CLI.Verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
