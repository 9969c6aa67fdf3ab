package main

import (
	"github.com/spf13/cobra"

	"github.com/sdlhq/sdl"
)

var sliceCmd = &cobra.Command{
	Use:   "slice",
	Short: "Build and refresh budgeted task slices",
}

var (
	flagStackTrace   string
	flagEditedFiles  string
	flagEntrySymbols string
	flagSliceCards   int
	flagSliceTokens  int
)

var sliceBuildCmd = &cobra.Command{
	Use:   "build <repo-id> <task-text>",
	Short: "Build a ranked, token-budgeted slice for a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(flagScriptsDir)
		if err != nil {
			return err
		}
		defer engine.Close()

		req := sdl.SliceRequest{
			RepoID:     args[0],
			TaskText:   args[1],
			StackTrace: flagStackTrace,
			Budget:     sdl.Budget{MaxCards: flagSliceCards, MaxEstimatedTokens: flagSliceTokens},
		}
		if flagEditedFiles != "" {
			req.EditedFiles = splitCSV(flagEditedFiles)
		}
		if flagEntrySymbols != "" {
			req.EntrySymbols = splitCSV(flagEntrySymbols)
		}

		result, err := engine.BuildSlice(cmd.Context(), req)
		if err != nil {
			return outputError(err)
		}
		return output(result)
	},
}

var sliceRefreshCmd = &cobra.Command{
	Use:   "refresh <handle> <known-version>",
	Short: "Conditionally refresh a leased slice",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(flagScriptsDir)
		if err != nil {
			return err
		}
		defer engine.Close()

		result, err := engine.SliceRefresh(cmd.Context(), args[0], args[1])
		if err != nil {
			return outputError(err)
		}
		return output(result)
	},
}

var (
	flagCursor   string
	flagPageSize int
)

var sliceSpilloverCmd = &cobra.Command{
	Use:   "spillover <spillover-handle>",
	Short: "Page through symbols dropped by a budget cut",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(flagScriptsDir)
		if err != nil {
			return err
		}
		defer engine.Close()

		page, err := engine.SpilloverGet(args[0], flagCursor, flagPageSize)
		if err != nil {
			return outputError(err)
		}
		return output(page)
	},
}

func init() {
	sliceCmd.AddCommand(sliceBuildCmd)
	sliceCmd.AddCommand(sliceRefreshCmd)
	sliceCmd.AddCommand(sliceSpilloverCmd)

	sliceBuildCmd.Flags().StringVar(&flagStackTrace, "stack-trace", "", "stack trace text to seed from")
	sliceBuildCmd.Flags().StringVar(&flagEditedFiles, "edited-files", "", "comma-separated edited file paths")
	sliceBuildCmd.Flags().StringVar(&flagEntrySymbols, "entry-symbols", "", "comma-separated entry symbol ids")
	sliceBuildCmd.Flags().IntVar(&flagSliceCards, "max-cards", 0, "card budget (default 20)")
	sliceBuildCmd.Flags().IntVar(&flagSliceTokens, "max-tokens", 0, "estimated-token budget (default 8000)")

	sliceSpilloverCmd.Flags().StringVar(&flagCursor, "cursor", "", "opaque paging cursor")
	sliceSpilloverCmd.Flags().IntVar(&flagPageSize, "page-size", 50, "page size")
}
