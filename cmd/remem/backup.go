package main

import (
	"github.com/spf13/cobra"

	"remem/internal/workspace"
)

var (
	backupAll         bool
	backupIncremental bool
	restoreTargetDir  string
	restoreOverwrite  bool
)

var backupCmd = &cobra.Command{
	Use:   "backup <archive-path>",
	Short: "Archive workspace memories and traces to a tar-gz file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		ws := ""
		if !backupAll {
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

		meta, err := eng.Backup(ctx, args[0], ws, backupIncremental)
		if err != nil {
			return err
		}
		return printJSON(meta)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <archive-path>",
	Short: "Import memories and traces from an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		target := ""
		if restoreTargetDir != "" {
			var err error
			target, err = workspace.ResolveID(restoreTargetDir)
			if err != nil {
				return err
			}
		}
		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		res, err := eng.Restore(ctx, args[0], target, restoreOverwrite)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <archive-path>",
	Short: "Check archive integrity without importing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		meta, err := eng.ValidateBackup(args[0])
		if err != nil {
			return err
		}
		return printJSON(meta)
	},
}

func init() {
	backupCmd.Flags().BoolVar(&backupAll, "all", false, "archive every workspace")
	backupCmd.Flags().BoolVar(&backupIncremental, "incremental", false, "skip memories already in the archive at this path")

	restoreCmd.Flags().StringVar(&restoreTargetDir, "target-workspace", "", "remap records into this workspace directory")
	restoreCmd.Flags().BoolVar(&restoreOverwrite, "overwrite", false, "replace records whose ids already exist")

	rootCmd.AddCommand(backupCmd, restoreCmd, validateCmd)
}
