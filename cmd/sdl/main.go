package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sdlhq/sdl"
	"github.com/sdlhq/sdl/scripts"
)

var (
	flagDB      string
	flagFormat  string
	flagVerbose bool
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			outputError(err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "sdl",
	Short:         "Symbol Delta Ledger: budgeted code slices for LLM agents",
	Long:          "sdl indexes source trees into a versioned symbol ledger and serves ranked, token-budgeted slices, deltas, and shape-preserving code views.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
	// No Run — prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: .sdl/sdl.db relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "log engine diagnostics to stderr")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(cardCmd)
	rootCmd.AddCommand(sliceCmd)
	rootCmd.AddCommand(deltaCmd)
	rootCmd.AddCommand(codeCmd)
	rootCmd.AddCommand(sweepCmd)
}

// openEngine builds an Engine against the resolved database path with
// the embedded scripts, or a scripts directory when --scripts-dir is
// given.
func openEngine(scriptsDir string) (*sdl.Engine, error) {
	return openEngineWith(scriptsDir)
}

// resolveDBPath returns the database path from --db or the default
// .sdl/sdl.db under the current repo root.
func resolveDBPath() string {
	if flagDB != "" {
		return flagDB
	}
	root := findRepoRoot(".")
	return filepath.Join(root, ".sdl", "sdl.db")
}

// findRepoRoot walks up from startDir looking for a .git directory,
// falling back to startDir.
func findRepoRoot(startDir string) string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return startDir
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			abs, _ := filepath.Abs(startDir)
			return abs
		}
		dir = parent
	}
}

// --- repo.register / repo.status / index.refresh --------------------------

var (
	flagIgnore       string
	flagLanguages    string
	flagMaxFileBytes int64
)

var registerCmd = &cobra.Command{
	Use:   "register <repo-id> <root-path>",
	Short: "Register a repository tree for indexing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(flagScriptsDir)
		if err != nil {
			return err
		}
		defer engine.Close()

		cfg := sdl.RepoConfig{MaxFileBytes: flagMaxFileBytes}
		if flagIgnore != "" {
			cfg.Ignore = splitCSV(flagIgnore)
		}
		if flagLanguages != "" {
			cfg.Languages = splitCSV(flagLanguages)
		}
		if err := engine.RegisterRepo(args[0], args[1], cfg); err != nil {
			return outputError(err)
		}
		return output(map[string]any{"ok": true, "repoId": args[0]})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <repo-id>",
	Short: "Report a repo's indexing state and health",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(flagScriptsDir)
		if err != nil {
			return err
		}
		defer engine.Close()

		st, err := engine.Status(args[0])
		if err != nil {
			return outputError(err)
		}
		return output(st)
	},
}

var (
	flagMode       string
	flagReason     string
	flagScriptsDir string
	flagSerial     bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh <repo-id>",
	Short: "Reindex a repo and finalize a new version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()

		opts := []sdl.Option{}
		if flagSerial {
			opts = append(opts, sdl.WithParallel(false))
		}
		engine, err := openEngineWith(flagScriptsDir, opts...)
		if err != nil {
			return err
		}
		defer engine.Close()

		mode := sdl.ModeIncremental
		if strings.EqualFold(flagMode, "full") {
			mode = sdl.ModeFull
		}
		if mode == sdl.ModeIncremental {
			if changed, err := engine.AdaptersChanged(); err == nil && changed {
				fmt.Fprintln(os.Stderr, "Extraction scripts changed since the last refresh; running a full refresh")
				mode = sdl.ModeFull
			}
		}

		versionID, changed, err := engine.Refresh(cmd.Context(), args[0], mode, flagReason)
		if err != nil {
			return outputError(err)
		}

		fmt.Fprintf(os.Stderr, "Refreshed %s in %s\n", args[0], time.Since(start).Round(time.Millisecond))
		return output(map[string]any{"versionId": versionID, "changedFiles": changed})
	},
}

// openEngineWith is openEngine plus caller options.
func openEngineWith(scriptsDir string, extra ...sdl.Option) (*sdl.Engine, error) {
	dbPath := resolveDBPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
	}
	opts := []sdl.Option{}
	if scriptsDir == "" {
		opts = append(opts, sdl.WithScriptsFS(scripts.FS))
	}
	if flagVerbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdl.WithLogger(logger))
	}
	opts = append(opts, extra...)
	return sdl.New(dbPath, scriptsDir, opts...)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired slice and spillover handles now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(flagScriptsDir)
		if err != nil {
			return err
		}
		defer engine.Close()

		n, err := engine.Store().SweepExpiredSliceHandles(time.Now())
		if err != nil {
			return outputError(err)
		}
		return output(map[string]any{"swept": n})
	},
}

func init() {
	registerCmd.Flags().StringVar(&flagIgnore, "ignore", "", "comma-separated ignore patterns")
	registerCmd.Flags().StringVar(&flagLanguages, "languages", "", "comma-separated language filter (e.g. go,typescript)")
	registerCmd.Flags().Int64Var(&flagMaxFileBytes, "max-file-bytes", 0, "per-file size cap for extractors")

	refreshCmd.Flags().StringVar(&flagMode, "mode", "incremental", "refresh mode: full|incremental")
	refreshCmd.Flags().StringVar(&flagReason, "reason", "", "reason recorded on the new version")
	refreshCmd.Flags().StringVar(&flagScriptsDir, "scripts-dir", "", "load scripts from disk path instead of embedded")
	refreshCmd.Flags().BoolVar(&flagSerial, "serial", false, "disable the parallel extraction pipeline")
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
