package cli

import (
	"fmt"
	"strings"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/martijn/vmvault/internal/importchain"
)

var (
	retentionWorkloads []string

	importMigrate   bool
	importWorkloads []string
	importUserID    string
	importSettings  bool
)

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Delete snapshots outside their workload's retention policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		results, err := services.Retention.Sweep(cmd.Context(), retentionWorkloads)
		if err != nil {
			return fmt.Errorf("retention failed: %w", err)
		}

		table := uitable.New()
		table.AddRow("WORKLOAD", "DELETED", "DEFERRED", "ERRORS")
		failed := 0
		for _, r := range results {
			if r.Skipped {
				table.AddRow(r.WorkloadID, "-", "-", "skipped, workload is busy")
				continue
			}
			table.AddRow(r.WorkloadID, len(r.Deleted), len(r.Deferred), strings.Join(r.Errors, "; "))
			failed += len(r.Errors)
		}
		fmt.Println(table)
		if failed > 0 {
			return fmt.Errorf("%d snapshot(s) could not be deleted", failed)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import workloads and snapshots found on the backup shares",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		opts := importchain.Options{
			Mode:        importchain.ModeUpgrade,
			WorkloadIDs: importWorkloads,
			UserID:      importUserID,
			Settings:    importSettings,
		}
		if importMigrate {
			opts.Mode = importchain.ModeMigrate
		}

		result, err := services.Imports.ImportWorkloads(cmd.Context(), opts)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		fmt.Printf("Imported %d workload(s), %d setting(s)\n", len(result.Imported), result.Settings)
		for id, msg := range result.SnapshotErrors {
			fmt.Printf("snapshot %s: %s\n", id, msg)
		}
		for id, msg := range result.Failed {
			fmt.Printf("FAILED %s: %s\n", id, msg)
		}
		if len(result.Failed) > 0 {
			return fmt.Errorf("%d workload(s) failed to import", len(result.Failed))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retentionCmd)
	rootCmd.AddCommand(importCmd)

	retentionCmd.Flags().StringSliceVar(&retentionWorkloads, "workload-id", nil, "Limit the sweep to these workloads")

	importCmd.Flags().BoolVar(&importMigrate, "migrate", false, "Import data written by another cloud")
	importCmd.Flags().StringSliceVar(&importWorkloads, "workload-id", nil, "Limit the import to these workloads")
	importCmd.Flags().StringVar(&importUserID, "user-id", "", "Owner for workloads whose user does not exist here")
	importCmd.Flags().BoolVar(&importSettings, "settings", false, "Also import the cloud-wide settings")
}
