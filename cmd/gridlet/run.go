// Package main provides the gridlet CLI for hosting spreadsheet extensions.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gridlet-dev/gridlet/internal/application/ports"
	"github.com/gridlet-dev/gridlet/internal/application/services"
	"github.com/gridlet-dev/gridlet/internal/infrastructure/consent"
	"github.com/gridlet-dev/gridlet/internal/infrastructure/engine"
	"github.com/gridlet-dev/gridlet/internal/infrastructure/manifest"
	"github.com/gridlet-dev/gridlet/internal/infrastructure/metrics"
	"github.com/gridlet-dev/gridlet/internal/infrastructure/permstore"
	"github.com/gridlet-dev/gridlet/internal/infrastructure/persistence/sqlite"
	"github.com/gridlet-dev/gridlet/internal/infrastructure/spreadsheet"
	"github.com/gridlet-dev/gridlet/internal/infrastructure/wasmunit"
)

var (
	runCommandID  string
	runArgsJSON   string
	metricsListen string
)

// runCmd loads extensions and optionally executes a command against them.
var runCmd = &cobra.Command{
	Use:   "run <extension-dir>...",
	Short: "Load extensions and run them against an in-memory workbook",
	Long: `Load one or more extensions, activate those declaring onStartupFinished,
and optionally execute a command. Each extension directory must contain a
manifest.yaml and a compiled extension.wasm.

Examples:
  # Load an extension and activate startup extensions
  gridlet run ./my-extension

  # Execute a command contributed by a loaded extension
  gridlet run ./my-extension --command acme.hello

  # Pass JSON arguments to the command
  gridlet run ./my-extension --command acme.sum --args '[1, 2, 3]'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd.Context(), args)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runCommandID, "command", "", "Command id to execute after startup")
	runCmd.Flags().StringVar(&runArgsJSON, "args", "", "JSON array of arguments for --command")
	runCmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Address to serve Prometheus metrics on (e.g. :9090)")
}

// dataDir resolves the gridlet state directory, creating it if needed.
func dataDir() (string, error) {
	if dir := viper.GetString("data_dir"); dir != "" {
		return dir, os.MkdirAll(dir, 0o750)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".gridlet")
	return dir, os.MkdirAll(dir, 0o750)
}

// runAction implements the core logic for the run command.
func runAction(ctx context.Context, extensionDirs []string) error {
	dir, err := dataDir()
	if err != nil {
		return err
	}

	store := permstore.NewFileStore(filepath.Join(dir, "permissions.yaml"))
	prompter := consent.NewTerminalPrompter()
	perms := services.NewPermissionManager(store, prompter)

	storage, err := sqlite.NewStore(filepath.Join(dir, "storage.db"))
	if err != nil {
		return fmt.Errorf("open extension storage: %w", err)
	}
	defer storage.Close()

	grid := spreadsheet.NewGrid()

	opts := []engine.Option{
		engine.WithSpreadsheet(grid),
		engine.WithStorage(storage),
		engine.WithClipboard(newOSClipboard()),
	}
	if metricsListen != "" {
		registry := prometheus.NewRegistry()
		opts = append(opts, engine.WithMetrics(metrics.New(registry)))
		go serveMetrics(metricsListen, registry)
	}

	host := engine.NewHost(engine.DefaultConfig(), wasmunit.NewSpawner(), perms, opts...)
	defer host.Dispose()

	for _, extDir := range extensionDirs {
		m, err := manifest.Load(filepath.Join(extDir, "manifest.yaml"))
		if err != nil {
			return err
		}
		entry := filepath.Join(extDir, "extension.wasm")
		if _, err := os.Stat(entry); err != nil {
			return fmt.Errorf("extension %s has no compiled binary: %w", extDir, err)
		}
		if err := host.LoadExtension(ctx, m, entry); err != nil {
			return fmt.Errorf("load extension from %s: %w", extDir, err)
		}
		slog.Info("extension loaded", "dir", extDir, "name", m.Display())
	}

	if err := host.Startup(ctx); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	if runCommandID == "" {
		return nil
	}

	var args []any
	if runArgsJSON != "" {
		if err := json.Unmarshal([]byte(runArgsJSON), &args); err != nil {
			return fmt.Errorf("parse --args: %w", err)
		}
	}
	result, err := host.ExecuteCommand(ctx, runCommandID, args...)
	if err != nil {
		return fmt.Errorf("execute command %s: %w", runCommandID, err)
	}
	if len(result) > 0 {
		fmt.Println(string(result))
	}
	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	slog.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server failed", "error", err)
	}
}

// osClipboard is a file-backed stand-in for a system clipboard, scoped to the
// gridlet data directory so capability calls have somewhere real to land.
type osClipboard struct {
	path string
}

func newOSClipboard() ports.ClipboardAPI {
	dir, err := dataDir()
	if err != nil {
		dir = os.TempDir()
	}
	return &osClipboard{path: filepath.Join(dir, "clipboard.txt")}
}

func (c *osClipboard) ReadText(context.Context) (string, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return string(data), nil
}

func (c *osClipboard) WriteText(_ context.Context, text string) error {
	if err := os.WriteFile(c.path, []byte(text), 0o600); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}
