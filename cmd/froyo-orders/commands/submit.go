package commands

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openfroyo/workorders/pkg/engine"
)

func newSubmitCommand() *cobra.Command {
	var (
		uri       string
		path      string
		size      int64
		mimeType  string
		uid       string
		priority  int
		urgent    bool
		mandatory bool
		policyStr string
		expiresIn time.Duration
		labels    map[string]string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new work order",
		Long: `Create a single-package work order in the PENDING state.

The policy expression is checked against the configured rule collections
before the work order is stored; an unparseable policy is rejected.`,
		Example: `  froyo-orders submit --uri https://cdn.example.com/maps/eu.bin --path /maps/eu.bin --size 1048576
  froyo-orders submit --uri https://cdn.example.com/a --path /a --size 100 \
      --priority 80 --urgent --policy 'wifi and charging' --label function_group=maps`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if uri == "" || path == "" {
				return fmt.Errorf("--uri and --path are required")
			}
			if size < 0 {
				return fmt.Errorf("--size must not be negative")
			}

			wo := engine.NewWorkOrder(engine.Package{
				ContentSize: size,
				SourceURI:   uri,
				LocalPath:   path,
				MimeType:    mimeType,
			})
			if err := wo.SetRelativePriority(priority); err != nil {
				return err
			}
			if uid == "" {
				uid = uuid.New().String()
			}
			wo.SetUID(uid)
			wo.SetUrgent(urgent)
			wo.SetMandatory(mandatory)
			wo.SetPriorityTime(time.Now().UTC())
			if expiresIn > 0 {
				wo.SetExpiration(time.Now().UTC().Add(expiresIn))
			}
			for k, v := range labels {
				wo.SetLabel(k, v)
			}

			return withService(cmd.Context(), func(svc *service) error {
				if policyStr != "" {
					wo.SetPolicyText(policyStr)
					if _, err := wo.Policy(svc.rules); err != nil {
						return err
					}
				}

				id, err := svc.manager.Submit(cmd.Context(), wo)
				if err != nil {
					return err
				}

				if jsonOutput {
					return printJSON(map[string]interface{}{"id": id, "uid": uid})
				}
				fmt.Printf("Submitted work order %d (uid %s)\n", id, uid)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&uri, "uri", "", "source URI of the content")
	cmd.Flags().StringVar(&path, "path", "", "content object path on the storage backend")
	cmd.Flags().Int64Var(&size, "size", 0, "content size in bytes")
	cmd.Flags().StringVar(&mimeType, "mime-type", "", "content type")
	cmd.Flags().StringVar(&uid, "uid", "", "caller identifier (generated when empty)")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "relative priority, 0-100")
	cmd.Flags().BoolVar(&urgent, "urgent", false, "mark the work order urgent")
	cmd.Flags().BoolVar(&mandatory, "mandatory", false, "mark the work order mandatory")
	cmd.Flags().StringVar(&policyStr, "policy", "", "policy expression gating the transfer")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "expire the work order after this duration")
	cmd.Flags().StringToStringVarP(&labels, "label", "l", nil, "work order labels (key=value)")

	return cmd
}
