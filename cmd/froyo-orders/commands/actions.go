package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/workorders/pkg/engine"
)

// newActionCommand builds the cancel, suspend and resume commands. The action
// is recorded on the work order and serviced by the next scheduling pass.
func newActionCommand(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			orderAction, err := engine.ParseOrderAction(action)
			if err != nil {
				return err
			}

			return withService(cmd.Context(), func(svc *service) error {
				wo, err := svc.manager.RequestAction(cmd.Context(), id, orderAction)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(map[string]interface{}{
						"id":     id,
						"action": string(wo.OrderAction()),
						"state":  wo.ExecutionState().String(),
					})
				}
				fmt.Printf("Work order %d: %s requested (currently %s)\n", id, action, wo.ExecutionState())
				return nil
			})
		},
	}
}
