package main

import (
	"github.com/spf13/cobra"

	"github.com/sdlhq/sdl"
)

var codeCmd = &cobra.Command{
	Use:   "code",
	Short: "Shape-preserving code views: windows, skeletons, hot paths",
}

var (
	flagReasonWindow  string
	flagExpectedLines int
	flagIdentifiers   string
	flagGranularity   string
	flagCodeTokens    int
	flagCodeLines     int
	flagContextLines  int
	flagExportedOnly  bool
	flagFile          string
)

var codeWindowCmd = &cobra.Command{
	Use:   "window <repo-id> <symbol-id>",
	Short: "Request a raw code window through the policy gate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(flagScriptsDir)
		if err != nil {
			return err
		}
		defer engine.Close()

		req := sdl.NeedWindowRequest{
			RepoID:        args[0],
			SymbolID:      args[1],
			Reason:        flagReasonWindow,
			ExpectedLines: flagExpectedLines,
			Granularity:   sdl.WindowGranularity(flagGranularity),
			MaxTokens:     flagCodeTokens,
		}
		if flagIdentifiers != "" {
			req.IdentifiersToFind = splitCSV(flagIdentifiers)
		}
		win, err := engine.NeedWindow(req)
		if err != nil {
			return outputError(err)
		}
		if win == nil {
			return output(map[string]any{"refused": "file-too-large"})
		}
		return output(win)
	},
}

var codeSkeletonCmd = &cobra.Command{
	Use:   "skeleton <repo-id> [symbol-id]",
	Short: "Get a signatures-and-scaffolding view of a symbol or file",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(flagScriptsDir)
		if err != nil {
			return err
		}
		defer engine.Close()

		symbolID := ""
		if len(args) > 1 {
			symbolID = args[1]
		}
		sk, err := engine.GetSkeleton(args[0], symbolID, flagFile, flagExportedOnly, flagCodeLines, flagCodeTokens)
		if err != nil {
			return outputError(err)
		}
		if sk == nil {
			return output(map[string]any{"refused": "file-too-large"})
		}
		return output(sk)
	},
}

var codeHotPathCmd = &cobra.Command{
	Use:   "hotpath <repo-id> <symbol-id>",
	Short: "Extract the lines of a symbol mentioning given identifiers",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(flagScriptsDir)
		if err != nil {
			return err
		}
		defer engine.Close()

		hp, err := engine.GetHotPath(args[0], args[1], splitCSV(flagIdentifiers), flagCodeLines, flagCodeTokens, flagContextLines)
		if err != nil {
			return outputError(err)
		}
		if hp == nil {
			return output(map[string]any{"refused": "file-too-large"})
		}
		return output(hp)
	},
}

func init() {
	codeCmd.AddCommand(codeWindowCmd)
	codeCmd.AddCommand(codeSkeletonCmd)
	codeCmd.AddCommand(codeHotPathCmd)

	codeWindowCmd.Flags().StringVar(&flagReasonWindow, "reason", "", "why raw code is needed (required)")
	codeWindowCmd.Flags().IntVar(&flagExpectedLines, "expected-lines", 0, "expected window size in lines (required)")
	codeWindowCmd.Flags().StringVar(&flagIdentifiers, "identifiers", "", "comma-separated identifiers expected in the window")
	codeWindowCmd.Flags().StringVar(&flagGranularity, "granularity", "symbol", "window granularity: symbol|block|fileWindow")
	codeWindowCmd.Flags().IntVar(&flagCodeTokens, "max-tokens", 0, "token budget")

	codeSkeletonCmd.Flags().StringVar(&flagFile, "file", "", "build a whole-file skeleton for this path instead of a symbol")
	codeSkeletonCmd.Flags().BoolVar(&flagExportedOnly, "exported-only", false, "keep only exported declarations")
	codeSkeletonCmd.Flags().IntVar(&flagCodeLines, "max-lines", 0, "line budget")
	codeSkeletonCmd.Flags().IntVar(&flagCodeTokens, "max-tokens", 0, "token budget")

	codeHotPathCmd.Flags().StringVar(&flagIdentifiers, "identifiers", "", "comma-separated identifiers to find (required)")
	codeHotPathCmd.Flags().IntVar(&flagCodeLines, "max-lines", 0, "line budget")
	codeHotPathCmd.Flags().IntVar(&flagCodeTokens, "max-tokens", 0, "token budget")
	codeHotPathCmd.Flags().IntVar(&flagContextLines, "context-lines", sdl.DefaultContextLines, "context lines around each match")
}
