package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

var sharesCmd = &cobra.Command{
	Use:   "shares",
	Short: "Show the capacity of every backup share",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		table := uitable.New()
		table.MaxColWidth = 60
		table.AddRow("NAME", "TYPE", "ENDPOINT", "TOTAL", "USED", "FREE", "STATUS")
		for _, share := range services.Placement.Capacities(cmd.Context()) {
			status := "online"
			if !share.Online {
				status = "offline: " + share.Error
			}
			table.AddRow(
				share.Name,
				share.Type,
				share.Endpoint,
				humanize.IBytes(uint64(share.Capacity.Total)),
				humanize.IBytes(uint64(share.Capacity.Used)),
				humanize.IBytes(uint64(share.Capacity.Free())),
				status,
			)
		}
		fmt.Println(table)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sharesCmd)
}
