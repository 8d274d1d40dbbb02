// Satchel is the search-and-safety backend for a school search portal.
//
// It fronts a chain of web search providers with a role-sensitive
// content filter, synthesizes instant answers through the Anthropic
// API, and exposes the search, staff chat, and admin surfaces over
// HTTP. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	satchel serve               Start the API server
//	satchel search <query>      Run one search from the terminal
//	satchel init [dir]          Initialize a working directory with defaults
//	satchel hash-token <token>  Print the bcrypt hash for an admin token
//	satchel version             Print version and build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/satchelhq/satchel/internal/answer"
	"github.com/satchelhq/satchel/internal/api"
	"github.com/satchelhq/satchel/internal/buildinfo"
	"github.com/satchelhq/satchel/internal/cache"
	"github.com/satchelhq/satchel/internal/config"
	"github.com/satchelhq/satchel/internal/defaults"
	"github.com/satchelhq/satchel/internal/events"
	"github.com/satchelhq/satchel/internal/llm"
	"github.com/satchelhq/satchel/internal/orchestrator"
	"github.com/satchelhq/satchel/internal/portal"
	"github.com/satchelhq/satchel/internal/provider"
	"github.com/satchelhq/satchel/internal/safety"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/telemetry"
)

// main is intentionally minimal. It constructs the OS-level
// environment and delegates immediately to [run] so the full
// startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, which makes it impossible
// to call run() concurrently from tests, and the argument surface here
// is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var roleFlag string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-role" && i+1 < len(args):
			roleFlag = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-role="):
			roleFlag = strings.TrimPrefix(args[i], "-role=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "search":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: satchel search [-role role] <query>")
		}
		return runSearch(ctx, stdout, stderr, configPath, roleFlag, strings.Join(cmdArgs, " "), outputFmt)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "hash-token":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("usage: satchel hash-token <token>")
		}
		return runHashToken(stdout, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runServe wires the full pipeline and serves until interrupted.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Satchel", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure now that the desired level is known; the Info-level
	// logger above covers only the startup banner.
	if cfg.LogLevel != "" {
		level, _ := config.ParseLogLevel(cfg.LogLevel)
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "model", cfg.Anthropic.Model)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "satchel.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	bus := events.New()
	searcher, chatMgr := buildPipeline(cfg, st, bus, logger)

	recorder := telemetry.NewRecorder(bus, st, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder.Start(ctx)

	if cfg.Telemetry.MQTT.Enabled {
		bridge := telemetry.NewBridge(cfg.Telemetry.MQTT, bus, logger)
		go func() {
			if err := bridge.Start(ctx); err != nil {
				logger.Error("mqtt bridge failed", "error", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			bridge.Stop(stopCtx)
		}()
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, searcher, logger)
	server.SetStore(st)
	server.SetChatManager(chatMgr)
	if cfg.Admin.TokenHash != "" {
		server.SetAdminAuth(api.NewAdminAuth(cfg.Admin.TokenHash))
	} else {
		logger.Warn("no admin token configured, admin endpoints disabled")
		server.SetAdminAuth(api.NewAdminAuth(""))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	recorder.Wait()
	return nil
}

// buildPipeline assembles the search pipeline from config: provider
// chain, safety filter and rater, caches, answer synthesizer, and the
// staff chat manager.
func buildPipeline(cfg *config.Config, st *store.Store, bus *events.Bus, logger *slog.Logger) (*orchestrator.Searcher, *orchestrator.ChatManager) {
	chain := provider.NewChain(logger,
		provider.NewBrave(cfg.Providers.Brave.APIKey),
		provider.NewGoogle(cfg.Providers.Google.APIKey, cfg.Providers.Google.EngineID),
		provider.NewDuckDuckGo(cfg.Providers.DuckDuckGo.Disabled),
		provider.NewSearXNG(cfg.Providers.SearXNG.URL),
	)
	logger.Info("provider chain assembled", "providers", chain.Providers())

	var rules safety.RuleSource
	if st != nil {
		rules = st
	}
	filter := safety.NewFilter(rules, logger)

	var model llm.Client
	anthropic := llm.NewAnthropic(cfg.Anthropic.APIKey, cfg.Anthropic.Model, logger)
	if anthropic.Configured() {
		model = anthropic
		logger.Info("anthropic model configured", "model", cfg.Anthropic.Model)
	} else {
		logger.Warn("no anthropic api key, instant answers and chat disabled")
	}

	bands := safety.Bands{
		SafeAbove:         cfg.Safety.SafeAbove,
		QuestionableAbove: cfg.Safety.QuestionableAbove,
	}
	var raterClient llm.Client
	if cfg.Safety.ModelAssist {
		raterClient = model
	}
	rater := safety.NewRater(bands, raterClient, logger)

	var synth *answer.Synthesizer
	if model != nil {
		answerCache := cache.New[*portal.Answer](cfg.Cache.Capacity)
		synth = answer.New(model, answerCache, logger,
			answer.WithTTL(cfg.Cache.AnswerTTL.Std()),
			answer.WithTimeout(cfg.Anthropic.Timeout.Std()),
		)
	}

	searcher := orchestrator.NewSearcher(
		chain,
		filter,
		cache.New[[]portal.Result](cfg.Cache.Capacity),
		logger,
		orchestrator.Options{
			MinQueryLength: cfg.Search.MinQueryLength,
			ResultTTL:      cfg.Cache.ResultTTL.Std(),
			ResultCount:    cfg.Search.ResultCount,
			Bus:            bus,
			Rater:          rater,
			Synthesizer:    synth,
		},
	)

	var chatMgr *orchestrator.ChatManager
	if model != nil {
		chatMgr = orchestrator.NewChatManager(model, bus, logger)
	}
	return searcher, chatMgr
}

// runSearch runs one pipeline pass from the terminal, useful for
// smoke-testing provider credentials and the safety policy.
func runSearch(ctx context.Context, stdout, stderr io.Writer, configPath, roleFlag, query, outputFmt string) error {
	logger := newLogger(stderr, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	role := portal.RoleStaff
	if roleFlag != "" {
		role, err = portal.ParseRole(roleFlag)
		if err != nil {
			return err
		}
	}

	searcher, _ := buildPipeline(cfg, nil, nil, logger)
	resp, err := searcher.Search(ctx, query, role)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if resp.Fallback {
		fmt.Fprintln(stdout, "(no live results; curated fallback)")
	}
	for i, r := range resp.Results {
		fmt.Fprintf(stdout, "%d. %s [%s]\n   %s\n", i+1, r.Title, r.Category, r.URL)
	}
	if resp.Answer != nil {
		fmt.Fprintf(stdout, "\nAnswer (%s confidence):\n%s\n", resp.Answer.Confidence, resp.Answer.Text)
	}
	return nil
}

// runInit initializes a working directory with the example config.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Satchel workspace in %s\n", dir)

	for _, sub := range []string{"data"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML); err != nil {
		return err
	}
	fmt.Fprintf(w, "  wrote %s\n", configPath)
	fmt.Fprintln(w, "Edit config.yaml and run: satchel serve")
	return nil
}

// runHashToken prints the bcrypt hash for an admin token, ready to
// paste into config.yaml.
func runHashToken(w io.Writer, token string) error {
	hash, err := api.HashToken(token)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}
	fmt.Fprintln(w, hash)
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Satchel - school search portal backend")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: satchel [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve              Start the API server")
	fmt.Fprintln(w, "  search <query>     Run one search from the terminal")
	fmt.Fprintln(w, "  init [dir]         Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  hash-token <tok>   Print the bcrypt hash for an admin token")
	fmt.Fprintln(w, "  version            Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -role <role>      Role for the search command: guest, student, staff (default: staff)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

// writeIfMissing writes content to path unless the file already
// exists. Re-running init must never clobber a tuned config.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty that exact path is used; otherwise
// [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
