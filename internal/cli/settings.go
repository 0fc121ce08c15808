package cli

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/martijn/vmvault/internal/core/domain"
)

var settingType string

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show and change cloud-wide settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		settings, err := services.Settings.ListSettings(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list settings: %w", err)
		}

		table := uitable.New()
		table.AddRow("NAME", "VALUE", "TYPE", "UPDATED")
		for _, s := range settings {
			value := s.Value
			if s.Hidden {
				value = "********"
			}
			table.AddRow(s.Name, value, s.Type, s.UpdatedAt.Format("2006-01-02 15:04"))
		}
		fmt.Println(table)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Set a setting and write it to the vault",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		setting, err := services.Settings.UpsertSetting(cmd.Context(), &domain.Setting{
			Name:  args[0],
			Value: args[1],
			Type:  settingType,
		})
		if err != nil {
			return fmt.Errorf("failed to set %s: %w", args[0], err)
		}
		fmt.Printf("%s = %s\n", setting.Name, setting.Value)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	settingsSetCmd.Flags().StringVar(&settingType, "type", "", "Setting type")
}
