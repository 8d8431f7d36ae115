package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/workorders/pkg/scheduler"
)

func newScheduleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run one scheduling pass",
		Long: `Run a single scheduling pass over every work order that is not completed.

Pending actions are serviced, policies evaluated and storage selected; the
resulting state of every work order is persisted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(svc *service) error {
				orders, err := svc.manager.Orders(cmd.Context())
				if err != nil {
					return err
				}
				report, err := svc.scheduler.RunPass(cmd.Context(), orders)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(report)
				}
				printReport(report)
				return nil
			})
		},
	}
}

func printReport(report *scheduler.PassReport) {
	fmt.Println(report)
	for _, res := range report.Results {
		line := fmt.Sprintf("  #%d %s -> %s", res.WorkOrder, res.Outcome, res.State)
		if res.Selection != nil && res.Selection.Found() {
			line += fmt.Sprintf(" on %s (%s)", res.Selection.BackendID, res.Selection.Step)
		}
		if res.Err != nil {
			line += fmt.Sprintf(": %v", res.Err)
		}
		fmt.Println(line)
	}
}

func newServeCommand() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduling passes periodically",
		Long: `Run scheduling passes every scheduler.interval until interrupted.

When metrics are enabled the Prometheus endpoint is served on
metrics.listen_address. With rules.watch set, rule files are reloaded as they
change; policies already parsed pick up reloaded collections by name.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withService(ctx, func(svc *service) error {
				if interval <= 0 {
					interval = svc.cfg.Scheduler.Interval.Duration
				}

				if server := svc.telemetry.StartMetricsServer(ctx); server != nil {
					log.Info().Str("address", server.Addr).Msg("Serving metrics")
				}

				if svc.cfg.Rules.Watch && len(svc.cfg.Rules.Paths) > 0 {
					err := svc.cfg.WatchRules(ctx, svc.loader, svc.rules, func(err error) {
						status := "success"
						if err != nil {
							status = "failure"
						}
						svc.telemetry.Metrics.RecordRuleReload(status)
					})
					if err != nil {
						return err
					}
				}

				log.Info().
					Dur("interval", interval).
					Strs("storage", svc.manager.Registry().IDs()).
					Strs("rules", svc.rules.Names()).
					Msg("Work order scheduler running")

				return svc.scheduler.Loop(ctx, interval, svc.manager)
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "time between passes (overrides scheduler.interval)")

	return cmd
}
