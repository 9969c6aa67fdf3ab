package main

import (
	"github.com/spf13/cobra"

	"github.com/sdlhq/sdl"
)

var flagLimit int

var searchCmd = &cobra.Command{
	Use:   "search <repo-id> <query>",
	Short: "Search symbols by name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(flagScriptsDir)
		if err != nil {
			return err
		}
		defer engine.Close()

		results, err := engine.SearchSymbols(args[0], args[1], flagLimit)
		if err != nil {
			return outputError(err)
		}
		return output(results)
	},
}

var flagIfNoneMatch string

var cardCmd = &cobra.Command{
	Use:   "card <repo-id> <symbol-id>",
	Short: "Fetch one symbol's card, with conditional ETag",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(flagScriptsDir)
		if err != nil {
			return err
		}
		defer engine.Close()

		resp, err := engine.GetCard(args[0], args[1], flagIfNoneMatch)
		if err != nil {
			return outputError(err)
		}
		return output(resp)
	},
}

var (
	flagMaxHops   int
	flagMaxCards  int
	flagMaxTokens int
)

var deltaCmd = &cobra.Command{
	Use:   "delta <repo-id> <from-version> <to-version>",
	Short: "Compute a change set and its budget-governed blast radius",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(flagScriptsDir)
		if err != nil {
			return err
		}
		defer engine.Close()

		var budget *sdl.DeltaBudget
		if flagMaxCards > 0 || flagMaxTokens > 0 {
			budget = &sdl.DeltaBudget{MaxCards: flagMaxCards, MaxTokens: flagMaxTokens}
		}
		pack, err := engine.Delta(cmd.Context(), args[0], args[1], args[2], flagMaxHops, budget)
		if err != nil {
			return outputError(err)
		}
		return output(pack)
	},
}

func init() {
	searchCmd.Flags().IntVar(&flagLimit, "limit", 20, "max results")
	cardCmd.Flags().StringVar(&flagIfNoneMatch, "if-none-match", "", "previously seen ETag for a notModified short-circuit")
	deltaCmd.Flags().IntVar(&flagMaxHops, "max-hops", sdl.DefaultMaxHops, "reverse-dependency hop budget")
	deltaCmd.Flags().IntVar(&flagMaxCards, "max-cards", 0, "blast-radius card budget (0 = uncapped)")
	deltaCmd.Flags().IntVar(&flagMaxTokens, "max-tokens", 0, "blast-radius token budget (0 = uncapped)")
}
