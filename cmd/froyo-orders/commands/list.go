package commands

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/workorders/pkg/engine"
	"github.com/openfroyo/workorders/pkg/stores"
)

func newListCommand() *cobra.Command {
	var (
		state string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders in priority order",
		Example: `  froyo-orders list
  froyo-orders list --state blocked`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := stores.WorkOrderFilter{Limit: limit}
			if state != "" {
				s, err := engine.ParseExecutionState(state)
				if err != nil {
					return err
				}
				filter.State = s
			}

			return withService(cmd.Context(), func(svc *service) error {
				orders, err := svc.store.ListWorkOrders(cmd.Context(), filter)
				if err != nil {
					return err
				}
				engine.SortByPriority(orders)

				if jsonOutput {
					return printJSON(orders)
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATE\tACTION\tPRIORITY\tSTORAGE\tSUMMARY")
				for _, wo := range orders {
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
						wo.Index(), wo.ExecutionState(), wo.OrderAction(),
						wo.RelativePriority(), orDash(wo.StorageID()), wo.SummaryStatus())
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "only list work orders in this state")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of work orders")

	return cmd
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return withService(cmd.Context(), func(svc *service) error {
				wo, err := svc.store.GetWorkOrder(cmd.Context(), id)
				if err != nil {
					return err
				}

				if jsonOutput {
					return printJSON(wo)
				}

				fmt.Println(wo.SummaryStatus())
				fmt.Printf("  uid:       %s\n", orDash(wo.UID()))
				fmt.Printf("  state:     %s\n", wo.ExecutionState())
				fmt.Printf("  action:    %s\n", wo.OrderAction())
				fmt.Printf("  priority:  %s\n", wo.Priority())
				fmt.Printf("  storage:   %s\n", orDash(wo.StorageID()))
				fmt.Printf("  policy:    %s\n", orDash(wo.PolicyText()))
				fmt.Printf("  progress:  %d / %d bytes\n", wo.DownloadedBytes(), wo.TotalBytes())
				for i, p := range wo.Packages() {
					fmt.Printf("  package %d: %s -> %s (%d/%d bytes)\n",
						i+1, p.SourceURI, p.LocalPath, p.BytesTransferred, p.ContentSize)
				}

				labels := wo.Labels()
				keys := make([]string, 0, len(labels))
				for k := range labels {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Printf("  label:     %s=%s\n", k, labels[k])
				}

				if req, ok := wo.ToTransferRequest(); ok && wo.ExecutionState() == engine.StateActive {
					fmt.Printf("  transfer:  %v\n", req)
				}
				return nil
			})
		},
	}
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
