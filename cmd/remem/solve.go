package main

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"remem/internal/service"
)

var (
	solveMatts      bool
	solveMattsK     int
	solveMattsMode  string
	solveRefineBest bool
	solveNoMemory   bool
	solveNoStore    bool
	solveIterations int
	solveThreshold  float64
	solveModel      string
	solveEffort     string
)

var solveCmd = &cobra.Command{
	Use:   "solve <task>",
	Short: "Solve a task using retrieved memories and iterative reasoning",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		ws, err := resolveWorkspace()
		if err != nil {
			return err
		}

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		opts := service.DefaultSolveOptions()
		opts.UseMemory = !solveNoMemory
		opts.StoreResult = !solveNoStore
		opts.EnableMatts = solveMatts
		opts.MattsK = solveMattsK
		opts.MattsMode = solveMattsMode
		opts.RefineBest = solveRefineBest
		opts.MaxIterations = solveIterations
		opts.SuccessThreshold = solveThreshold
		opts.Model = solveModel
		opts.ReasoningEffort = solveEffort

		task := strings.Join(args, " ")
		logger.Info("solving task",
			zap.String("workspace", ws),
			zap.Bool("matts", opts.EnableMatts))

		result, err := eng.Solve(ctx, task, ws, opts)
		if err != nil {
			if result != nil {
				// Partial result under a blown budget still prints.
				_ = printJSON(result)
			}
			return err
		}
		return printJSON(result)
	},
}

func init() {
	solveCmd.Flags().BoolVar(&solveMatts, "matts", false, "fan out k candidate solutions and pick the best")
	solveCmd.Flags().IntVar(&solveMattsK, "matts-k", 3, "number of MaTTS candidates (2-10)")
	solveCmd.Flags().StringVar(&solveMattsMode, "matts-mode", "parallel", "MaTTS mode: parallel or sequential")
	solveCmd.Flags().BoolVar(&solveRefineBest, "refine-best", false, "refine the winning candidate when below threshold")
	solveCmd.Flags().BoolVar(&solveNoMemory, "no-memory", false, "skip memory retrieval")
	solveCmd.Flags().BoolVar(&solveNoStore, "no-store", false, "do not persist the trace or learnings")
	solveCmd.Flags().IntVar(&solveIterations, "max-iterations", 0, "iteration cap (default from config)")
	solveCmd.Flags().Float64Var(&solveThreshold, "success-threshold", 0, "early-termination score (default from config)")
	solveCmd.Flags().StringVar(&solveModel, "model", "", "override the configured model")
	solveCmd.Flags().StringVar(&solveEffort, "reasoning-effort", "", "low, medium, or high")
	rootCmd.AddCommand(solveCmd)
}
