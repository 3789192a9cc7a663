package main

import (
	"strings"

	"github.com/spf13/cobra"

	"remem/internal/types"
)

var (
	retrieveN         int
	retrieveDomain    string
	retrieveTags      []string
	retrieveMinScore  float64
	retrieveNoErrors  bool
	cleanupRetention  int
	cleanupAll        bool
	deleteConfirm     bool
	statsAllWorkspace bool
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Retrieve composite-scored memories for a query",
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

		opts := types.RetrieveOptions{
			IncludeErrors: !retrieveNoErrors,
			Domain:        retrieveDomain,
			PatternTags:   retrieveTags,
			MinScore:      retrieveMinScore,
		}
		scored, err := eng.Retrieve(ctx, strings.Join(args, " "), ws, retrieveN, opts)
		if err != nil {
			return err
		}
		return printJSON(scored)
	},
}

var genealogyCmd = &cobra.Command{
	Use:   "genealogy <memory-id>",
	Short: "Show the ancestry and descendants of a memory",
	Args:  cobra.ExactArgs(1),
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

		g, err := eng.Genealogy(ctx, args[0], ws)
		if err != nil {
			return err
		}
		return printJSON(g)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show workspace, cache, and API statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		ws := ""
		if !statsAllWorkspace {
			var err error
			ws, err = resolveWorkspace()
			if err != nil {
				return err
			}
		}
		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		stats, err := eng.Stats(ctx, ws)
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete traces and memories past the retention horizon",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		ws := ""
		if !cleanupAll {
			var err error
			ws, err = resolveWorkspace()
			if err != nil {
				return err
			}
		}
		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		res, err := eng.Cleanup(ctx, cleanupRetention, ws)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var deleteWorkspaceCmd = &cobra.Command{
	Use:   "delete-workspace",
	Short: "Delete every trace and memory in the workspace",
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

		n, err := eng.DeleteWorkspace(ctx, ws, deleteConfirm)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{
			"workspace_id":    ws,
			"deleted_records": n,
		})
	},
}

func init() {
	retrieveCmd.Flags().IntVarP(&retrieveN, "limit", "n", 5, "number of memories to return")
	retrieveCmd.Flags().StringVar(&retrieveDomain, "domain", "", "restrict to one domain")
	retrieveCmd.Flags().StringSliceVar(&retrieveTags, "tags", nil, "match any of these pattern tags")
	retrieveCmd.Flags().Float64Var(&retrieveMinScore, "min-score", 0, "drop memories scoring below this")
	retrieveCmd.Flags().BoolVar(&retrieveNoErrors, "no-errors", false, "exclude memories with recorded failure modes")

	statsCmd.Flags().BoolVar(&statsAllWorkspace, "all", false, "aggregate across all workspaces")

	cleanupCmd.Flags().IntVar(&cleanupRetention, "retention-days", 0, "retention horizon (default from config)")
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "clean every workspace")

	deleteWorkspaceCmd.Flags().BoolVar(&deleteConfirm, "confirm", false, "confirm the destructive delete")

	rootCmd.AddCommand(retrieveCmd, genealogyCmd, statsCmd, cleanupCmd, deleteWorkspaceCmd)
}
