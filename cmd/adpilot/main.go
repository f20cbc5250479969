// Adpilot is a conversational operations agent for advertising and
// checkout platforms. Operators direct side-effecting actions (pause a
// campaign, change a budget, cancel a subscription) through natural
// language; every destructive change is staged and requires an
// explicit, time-bounded confirmation before it executes.
//
// Usage:
//
//	adpilot serve              Start the API server
//	adpilot version            Print version and build information
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]); environment
// variables override file settings.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/slyngg/adpilot/internal/agent"
	"github.com/slyngg/adpilot/internal/api"
	"github.com/slyngg/adpilot/internal/buildinfo"
	"github.com/slyngg/adpilot/internal/config"
	"github.com/slyngg/adpilot/internal/confirm"
	"github.com/slyngg/adpilot/internal/facts"
	"github.com/slyngg/adpilot/internal/llm"
	"github.com/slyngg/adpilot/internal/memory"
	"github.com/slyngg/adpilot/internal/platform"
	"github.com/slyngg/adpilot/internal/resolve"
	"github.com/slyngg/adpilot/internal/tools"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("adpilot", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	command := "serve"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}

	switch command {
	case "version":
		fmt.Println(buildinfo.String())
		return nil
	case "serve":
		return serve(*configPath)
	default:
		return fmt.Errorf("unknown command %q (valid: serve, version)", command)
	}
}

func serve(configPath string) error {
	path, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
	slog.SetDefault(logger)

	logger.Info("starting", "build", buildinfo.String(), "config", path)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	conversations, err := memory.NewStore(filepath.Join(cfg.DataDir, "conversations.db"))
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer conversations.Close()

	factStore, err := facts.NewStore(filepath.Join(cfg.DataDir, "facts.db"))
	if err != nil {
		return fmt.Errorf("open fact store: %w", err)
	}
	defer factStore.Close()

	var platforms []platform.Client
	if cfg.Ads.BaseURL != "" {
		platforms = append(platforms, platform.NewAdsClient(cfg.Ads.BaseURL, cfg.Ads.Token, logger))
	}
	if cfg.Checkout.BaseURL != "" {
		platforms = append(platforms, platform.NewCheckoutClient(cfg.Checkout.BaseURL, cfg.Checkout.Token, logger))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	oracle := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)
	resolver := resolve.New(logger, platforms...)

	gate := confirm.NewStore(logger, cfg.ConfirmTTL())
	gate.StartSweeper(ctx, time.Minute)

	registry, err := tools.DefaultRegistry(tools.Deps{
		Resolver:  resolver,
		Gate:      gate,
		Platforms: platforms,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	extractor := facts.NewExtractor(factStore, oracle, cfg.Anthropic.ExtractModel, logger)

	driver := agent.NewDriver(agent.Options{
		Oracle:    oracle,
		Model:     cfg.Anthropic.Model,
		Registry:  registry,
		Gate:      gate,
		Store:     conversations,
		Facts:     factStore,
		Extractor: extractor,
		Logger:    logger,
		MaxRounds: cfg.Agent.MaxToolRounds,
	})

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, driver, conversations, gate, cfg.Agent.DefaultUser, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
