package cmd

import (
	"fmt"

	"github.com/adalundhe/strata/core/universe"
	"github.com/spf13/cobra"
)

var (
	factsFilter string
	factsRules  bool
)

var factsCmd = &cobra.Command{
	Use:   "facts <file>",
	Short: "List the stored facts of a program",
	Long: `List the facts a program stores, in insertion order. Derived facts
are not listed; use query for those.

Examples:
  strata facts graph.mg
  strata facts graph.mg --filter 'edge/*'
  strata facts graph.mg --filter '*/1' --rules`,
	Args: cobra.ExactArgs(1),
	RunE: runFacts,
}

func init() {
	rootCmd.AddCommand(factsCmd)

	factsCmd.Flags().StringVarP(&factsFilter, "filter", "f", "*", "Signature glob such as edge/2 or p*/*")
	factsCmd.Flags().BoolVar(&factsRules, "rules", false, "Also list rules whose head matches the filter")
}

func runFacts(cmd *cobra.Command, args []string) error {
	match, err := universe.SignaturePattern(factsFilter)
	if err != nil {
		return err
	}
	u, _, err := loadUniverse(args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if err := writeExprs(w, u.FactsMatchingGlob(match)); err != nil {
		return err
	}
	if !factsRules {
		return nil
	}
	for _, r := range u.AllRules() {
		if match.Match(r.Signature()) {
			fmt.Fprintf(w, "%s.\n", r)
		}
	}
	return nil
}
