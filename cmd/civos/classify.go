package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qontrek/civos/pkg/classification"
	"github.com/qontrek/civos/pkg/contracts"
)

func (c *cli) classifyCmd() *cobra.Command {
	var (
		in       classification.Context
		budgeted bool
	)
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify one action and print the result as JSON",
		Example: `  civos classify --action generate_quote --input "Generate quote for Ahmad" --spend 500
  civos classify --action approve_install --spend 1500 --budget
  civos classify --input "What is solar?"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := buildEngine(c.cfg)
			if err != nil {
				return err
			}

			out := struct {
				Classification contracts.ClassificationResult `json:"classification"`
				Budget         *contracts.BudgetDecision      `json:"budget,omitempty"`
			}{}
			if budgeted {
				sys, err := buildSubsystems(cmd.Context(), c.cfg)
				if err != nil {
					return err
				}
				defer func() { _ = sys.Close(cmd.Context()) }()
				decision := sys.monitor.Check(in.EstimatedSpend)
				out.Budget = &decision
				out.Classification, err = engine.ClassifyWithCFO(in, decision)
				if err != nil {
					return err
				}
			} else {
				out.Classification, err = engine.Classify(in)
				if err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&in.ActionType, "action", "", "action type")
	cmd.Flags().StringVar(&in.UserInput, "input", "", "user input that triggered the action")
	cmd.Flags().Float64Var(&in.EstimatedSpend, "spend", 0, "estimated spend in MYR")
	cmd.Flags().BoolVar(&budgeted, "budget", false, "apply the configured budget monitor")
	cmd.MarkFlagsOneRequired("action", "input")
	return cmd
}
