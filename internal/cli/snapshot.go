package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/martijn/vmvault/internal/api/util"
	"github.com/martijn/vmvault/internal/core/repository"
	"github.com/martijn/vmvault/internal/core/service"
)

var (
	snapshotName string
	snapshotFull bool
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Take, list and delete snapshots",
}

var snapshotStartCmd = &cobra.Command{
	Use:   "start <workload-id>",
	Short: "Snapshot a workload and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		snapshot, err := services.Snapshots.StartSnapshot(cmd.Context(), args[0], service.SnapshotOptions{
			Name:      snapshotName,
			ForceFull: snapshotFull,
		})
		if err != nil {
			return fmt.Errorf("failed to start snapshot: %w", err)
		}
		fmt.Printf("%s snapshot %s started\n", snapshot.SnapshotType, snapshot.ID)

		services.Snapshots.Wait()
		snapshot, err = services.Snapshots.GetSnapshot(cmd.Context(), snapshot.ID)
		if err != nil {
			return err
		}
		if snapshot.ErrorMsg != nil {
			return fmt.Errorf("snapshot %s failed: %s", snapshot.ID, *snapshot.ErrorMsg)
		}
		fmt.Printf("Snapshot %s %s (%s)\n", snapshot.ID, snapshot.Status, humanize.IBytes(uint64(snapshot.Size)))
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list [workload-id]",
	Short: "List snapshots, optionally of one workload",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		filter := repository.SnapshotFilter{
			ListFilter: util.ListFilter{Order: []util.OrderClause{{Field: "created_at", Direction: util.OrderAsc}}},
		}
		if len(args) == 1 {
			filter.Filters = []util.QueryFilter{{Field: "workload_id", Operator: util.OpEq, Value: args[0]}}
		}
		snapshots, err := services.Snapshots.ListSnapshots(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("failed to list snapshots: %w", err)
		}

		table := uitable.New()
		table.AddRow("ID", "WORKLOAD", "TYPE", "STATUS", "SIZE", "CREATED")
		for _, s := range snapshots {
			table.AddRow(s.ID, s.WorkloadID, s.SnapshotType, s.Status, humanize.IBytes(uint64(s.Size)), humanize.Time(s.CreatedAt))
		}
		fmt.Println(table)
		return nil
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <snapshot-id>",
	Short: "Delete a snapshot no other snapshot depends on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		if err := services.Snapshots.DeleteSnapshot(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete snapshot: %w", err)
		}
		fmt.Printf("Snapshot %s deleted\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotStartCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotDeleteCmd)

	snapshotStartCmd.Flags().StringVar(&snapshotName, "name", "", "Snapshot name")
	snapshotStartCmd.Flags().BoolVar(&snapshotFull, "full", false, "Force a full snapshot")
}
