// ABOUTME: Entry point for the whisperlog conversation store
// ABOUTME: Runs the local API server and one-shot sync/export commands

package main

import (
	"bufio"
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
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/whisperlog/whisperlog/internal/api"
	"github.com/whisperlog/whisperlog/internal/clock"
	"github.com/whisperlog/whisperlog/internal/config"
	"github.com/whisperlog/whisperlog/internal/conversation"
	"github.com/whisperlog/whisperlog/internal/outbox"
	"github.com/whisperlog/whisperlog/internal/retention"
	"github.com/whisperlog/whisperlog/internal/store"
	syncclient "github.com/whisperlog/whisperlog/internal/sync"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
          _     _                 _
 __      _| |__ (_)___ _ __   ___ _ __| | ___   __ _
 \ \ /\ / / '_ \| / __| '_ \ / _ \ '__| |/ _ \ / _' |
  \ V  V /| | | | \__ \ |_) |  __/ |  | | (_) | (_| |
   \_/\_/ |_| |_|_|___/ .__/ \___|_|  |_|\___/ \__, |
                      |_|                      |___/
`

const defaultAPIAddr = "127.0.0.1:7968"

// getConfigPath returns the path to the whisperlog config file.
// Priority: WHISPERLOG_CONFIG env var > XDG_CONFIG_HOME/whisperlog/config.yaml > ~/.config/whisperlog/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("WHISPERLOG_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "whisperlog", "config.yaml")
}

// getDataPath returns the path to the whisperlog data directory.
// Priority: XDG_DATA_HOME/whisperlog > ~/.local/share/whisperlog
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "whisperlog")
}

func main() {
	// Optional .env for local development; missing file is fine
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: whisperlog <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the local conversation store API")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  sync     Push pending ops and pull remote ops once")
		fmt.Println("  export   Write all local data as JSON to stdout")
		fmt.Println("  status   Check whether the local API is up")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "sync":
		err = runSync(ctx)
	case "export":
		err = runExport(ctx)
	case "status":
		err = runStatus(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openStack opens the store and clock and wires the outbox, retention,
// service, and sync client on top. Callers must invoke the returned cleanup.
type stack struct {
	store  *store.SQLiteStore
	clock  *clock.DeviceClock
	queue  *outbox.Queue
	svc    *conversation.Service
	sync   *syncclient.Client
	logger *slog.Logger
}

func openStack(ctx context.Context, cfg *config.Config) (*stack, func(), error) {
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	clk, err := clock.Load(ctx, st)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("loading device clock: %w", err)
	}

	queue := outbox.New(st, clk)
	ret := retention.New(st, cfg.Retention.MaxHistoryTurns)
	svc := conversation.New(st, queue, ret, logger)

	var transport syncclient.Transport
	if cfg.Sync.BaseURL != "" {
		transport = syncclient.NewHTTPTransport(cfg.Sync.RequestTimeout)
	}
	client := syncclient.NewClient(syncclient.Options{
		Transport:  transport,
		BaseURL:    cfg.Sync.BaseURL,
		Outbox:     queue,
		Store:      st,
		DeviceID:   clk.DeviceID(),
		BatchLimit: cfg.Sync.PushBatchLimit,
	})

	cleanup := func() {
		clk.Close()
		if err := st.Close(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}

	return &stack{
		store:  st,
		clock:  clk,
		queue:  queue,
		svc:    svc,
		sync:   client,
		logger: logger,
	}, cleanup, nil
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.API.Addr
	if addr == "" {
		addr = defaultAPIAddr
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("API:       %s\n", addr)
	green.Print("    ▶ ")
	fmt.Printf("Sync:      ")
	if cfg.Sync.BaseURL != "" {
		cyan.Println(cfg.Sync.BaseURL)
	} else {
		yellow.Println("disabled")
	}
	fmt.Println()

	s, cleanup, err := openStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	s.logger.Info("starting whisperlog",
		"config", configPath,
		"addr", addr,
		"device_id", s.clock.DeviceID(),
	)

	server := &http.Server{
		Addr:    addr,
		Handler: api.New(s.svc, s.sync).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runSync(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Sync.BaseURL == "" {
		return fmt.Errorf("sync.base_url is not configured")
	}

	s, cleanup, err := openStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	green := color.New(color.FgGreen)

	acked, err := s.sync.PushOutbox(ctx)
	if err != nil {
		return fmt.Errorf("pushing outbox: %w", err)
	}
	green.Print("  ✓ ")
	fmt.Printf("Pushed %d op(s)\n", acked)

	applied, err := s.sync.PullAndApplyOps(ctx)
	if err != nil {
		return fmt.Errorf("pulling ops: %w", err)
	}
	green.Print("  ✓ ")
	fmt.Printf("Applied %d op(s)\n", applied)

	return nil
}

func runExport(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, cleanup, err := openStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	snap, err := s.svc.ExportData(ctx)
	if err != nil {
		return fmt.Errorf("exporting data: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func runStatus(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.API.Addr
	if addr == "" {
		addr = defaultAPIAddr
	}

	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Println(string(body))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("whisperlog configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "whisperlog.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Sync Configuration ---")
	baseURL := prompt(reader, "Sync server base URL (leave empty to disable)", "")

	fmt.Println("\n--- Retention Configuration ---")
	maxTurns := prompt(reader, "Max turns kept per conversation (0 = unlimited)", "0")

	fmt.Println("\n--- API Configuration ---")
	apiAddr := prompt(reader, "Local API address", defaultAPIAddr)

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# whisperlog configuration\n")
	cfg.WriteString("# Generated by whisperlog init\n\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("sync:\n")
	if baseURL != "" {
		cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", baseURL))
	} else {
		cfg.WriteString("  base_url: \"\"\n")
	}
	cfg.WriteString("  push_batch_limit: 500\n")
	cfg.WriteString("  request_timeout: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("retention:\n")
	cfg.WriteString(fmt.Sprintf("  max_history_turns: %s\n", maxTurns))
	cfg.WriteString("\n")

	cfg.WriteString("api:\n")
	cfg.WriteString(fmt.Sprintf("  addr: \"%s\"\n", apiAddr))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  whisperlog serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs), then record attrs
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
