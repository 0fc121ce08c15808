package cli

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/martijn/vmvault/internal/api/util"
	"github.com/martijn/vmvault/internal/core/repository"
)

var workloadCmd = &cobra.Command{
	Use:   "workload",
	Short: "Manage workloads",
}

var workloadListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		workloads, err := services.Workloads.ListWorkloads(cmd.Context(), repository.WorkloadFilter{
			ListFilter: util.ListFilter{Order: []util.OrderClause{{Field: "created_at", Direction: util.OrderAsc}}},
		})
		if err != nil {
			return fmt.Errorf("failed to list workloads: %w", err)
		}

		table := uitable.New()
		table.AddRow("ID", "NAME", "STATUS", "SHARE", "SCHEDULE")
		for _, w := range workloads {
			schedule := "disabled"
			if w.JobSchedule.Enabled {
				schedule = fmt.Sprintf("every %s, keep %d (%s)", w.JobSchedule.IntervalDuration(),
					w.JobSchedule.RetentionPolicyValue, w.JobSchedule.RetentionPolicyType)
			}
			table.AddRow(w.ID, w.Name, w.Status, w.BackupTarget(), schedule)
		}
		fmt.Println(table)
		return nil
	},
}

var workloadDeleteCmd = &cobra.Command{
	Use:   "delete <workload-id>",
	Short: "Delete a workload without snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		if err := services.Workloads.DeleteWorkload(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete workload: %w", err)
		}
		fmt.Printf("Workload %s deleted\n", args[0])
		return nil
	},
}

var workloadChainCmd = &cobra.Command{
	Use:   "chain <workload-id>",
	Short: "Validate the disk chains of a workload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		report, err := services.Retention.ValidateChain(cmd.Context(), args[0])
		if report != nil {
			for _, problem := range report.Problems {
				fmt.Println(problem)
			}
			fmt.Printf("%d chain link(s) checked\n", len(report.Links))
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(workloadCmd)
	workloadCmd.AddCommand(workloadListCmd)
	workloadCmd.AddCommand(workloadDeleteCmd)
	workloadCmd.AddCommand(workloadChainCmd)
}
