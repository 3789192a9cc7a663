// Command remem is the CLI surface over the memory engine: solve tasks,
// inspect and maintain workspace memory, and manage backups.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"remem/internal/config"
	"remem/internal/logging"
	"remem/internal/service"
	"remem/internal/workspace"
)

var (
	flagConfig    string
	flagWorkspace string
	flagDebug     bool

	logger *zap.Logger
	cfg    config.Config
)

var rootCmd = &cobra.Command{
	Use:   "remem",
	Short: "Self-evolving episodic memory engine for LLM agents",
	Long: `remem retrieves similar past experiences, reasons iteratively over a task,
judges the result, and persists extracted learnings into a workspace-scoped
vector store.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if flagDebug {
			zapCfg = zap.NewDevelopmentConfig()
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagDebug {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		return logging.Initialize(cfg.StateDir, cfg.Logging.DebugMode, cfg.Logging.Level)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to yaml config file")
	rootCmd.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", "", "workspace directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
}

// newEngine builds the engine; callers must Close it.
func newEngine(ctx context.Context) (*service.Engine, error) {
	eng, err := service.New(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	return eng, nil
}

// resolveWorkspace returns the workspace id for the --workspace flag, the
// configured workspace directory, or the current directory.
func resolveWorkspace() (string, error) {
	dir := flagWorkspace
	if dir == "" {
		dir = cfg.WorkspaceDir
	}
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve current directory: %w", err)
		}
	}
	return workspace.ResolveID(dir)
}

// printJSON writes a result to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// signalContext cancels on SIGINT/SIGTERM so in-flight LLM calls abort.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
