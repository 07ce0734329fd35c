// Command domready waits for elements to be ready on web pages or local HTML
// files and reports them.
//
// Usage:
//
//	domready -url https://example.com -selector nav            # one check in Chrome
//	domready -file page.html -pace 2ms -selector nav -observe  # stream a local file
//	domready -config domready.yaml                             # checks from YAML
//	domready -db domready.db -watch                            # checks from SQLite, re-run on change
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hazyhaar/domready/internal/config"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var selectors stringList
	configPath := flag.String("config", "", "path to domready.yaml config file")
	pageURL := flag.String("url", "", "check a single URL in Chrome")
	filePath := flag.String("file", "", "check a single local HTML file")
	pace := flag.Duration("pace", 0, "delay between nodes when streaming -file")
	flag.Var(&selectors, "selector", "CSS selector to wait for (repeatable)")
	observe := flag.Bool("observe", false, "stream every ready element instead of the first")
	dbPath := flag.String("db", "", "SQLite database: checks source and results journal")
	watch := flag.Bool("watch", false, "with -db, re-run checks whenever they change")
	format := flag.String("format", "", "output format: html, text, markdown, sanitized")
	webhook := flag.String("webhook", "", "also POST results to this URL")
	remote := flag.String("remote", "", "DevTools WebSocket URL of an existing Chrome")
	timeout := flag.Duration("timeout", 0, "per-check timeout")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("domready: fatal", "error", err)
		os.Exit(1)
	}
	if *pageURL != "" || *filePath != "" {
		cfg.Checks = append(cfg.Checks, config.CheckConfig{
			URL:       *pageURL,
			File:      *filePath,
			Selectors: selectors,
			Timeout:   *timeout,
			Observe:   *observe,
		})
	}
	if *dbPath != "" {
		cfg.DB = *dbPath
	}
	if *format != "" {
		cfg.Output.Format = *format
	}
	if *webhook != "" {
		cfg.Output.Webhook = *webhook
	}
	if *remote != "" {
		cfg.Browser.Remote = *remote
	}
	if *timeout > 0 {
		cfg.Watch.DefaultTimeout = *timeout
	}
	if err := cfg.Finalize(); err != nil {
		logger.Error("domready: fatal", "error", err)
		os.Exit(1)
	}

	if len(cfg.Checks) == 0 && cfg.DB == "" {
		fmt.Fprintln(os.Stderr, "usage: domready -url <url> | -file <path> -selector <css> | -config <file> | -db <file> [-watch]")
		os.Exit(2)
	}

	r, err := newRunner(cfg, logger, os.Stdout, *pace)
	if err != nil {
		logger.Error("domready: fatal", "error", err)
		os.Exit(1)
	}
	defer r.Close()

	if err := r.Run(ctx, *watch); err != nil {
		logger.Error("domready: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// started reports how long ago t was, rounded for logs.
func started(t time.Time) time.Duration { return time.Since(t).Round(time.Millisecond) }
