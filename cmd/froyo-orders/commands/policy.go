package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/workorders/pkg/engine"
	"github.com/openfroyo/workorders/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Work with policy expressions",
	}
	cmd.AddCommand(newPolicyCheckCommand())
	return cmd
}

func newPolicyCheckCommand() *cobra.Command {
	var (
		rulePaths []string
		labels    map[string]string
	)

	cmd := &cobra.Command{
		Use:   "check <expression>",
		Short: "Parse a policy expression and print its tree",
		Long: `Parse a policy expression against the configured rule collections.

The canonical expression tree is printed together with the rule names it
references. Names without a registered collection evaluate to false. With
--label the policy is also evaluated against a work order carrying those labels.`,
		Example: `  froyo-orders policy check 'wifi and (charging or true())'
  froyo-orders policy check 'not metered' --rules ./rules
  froyo-orders policy check 'function-group' --label function_group=maps`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(rulePaths) > 0 {
				cfg.Rules.Paths = rulePaths
			}

			loader := policy.NewLoader(log.Logger)
			rules, err := cfg.BuildRules(cmd.Context(), loader, log.Logger)
			if err != nil {
				return err
			}

			p, err := policy.Compile(args[0], rules)
			if err != nil {
				var perr *policy.ParseError
				if errors.As(err, &perr) {
					return engine.NewError(engine.KindInvalidPolicy, "policy failed to parse", err).
						WithReason(engine.PolicyReason(perr.Reason)).
						WithOperation("policy_check").
						WithDetail("offset", perr.Offset)
				}
				return err
			}

			result := map[string]interface{}{
				"policy":     p.Text(),
				"tree":       p.String(),
				"references": p.References(),
				"unresolved": p.Unresolved(),
			}
			if len(labels) > 0 {
				wo := engine.NewWorkOrder()
				for k, v := range labels {
					wo.SetLabel(k, v)
				}
				result["result"] = p.Evaluate(wo)
			}

			if jsonOutput {
				return printJSON(result)
			}

			fmt.Printf("Policy:     %s\n", p.Text())
			fmt.Printf("Tree:       %s\n", p.String())
			fmt.Printf("References: %v\n", p.References())
			if unresolved := p.Unresolved(); len(unresolved) > 0 {
				fmt.Printf("Unresolved: %v (evaluate to false)\n", unresolved)
			}
			if r, ok := result["result"]; ok {
				fmt.Printf("Result:     %v\n", r)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&rulePaths, "rules", nil, "rule files or directories (overrides rules.paths)")
	cmd.Flags().StringToStringVarP(&labels, "label", "l", nil, "evaluate against a work order with these labels (key=value)")

	return cmd
}
