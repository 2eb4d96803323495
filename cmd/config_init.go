package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/brogergvhs/mangabind/internal/config"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the Default config profile and make it active",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Default configuration:")
		config.DefaultConfig().Print()
		fmt.Println()

		confirm := promptui.Prompt{
			Label:     fmt.Sprintf("Create the %s profile in %s", config.DefaultLabel, config.ConfigsDir()),
			IsConfirm: true,
		}
		if _, err := confirm.Run(); err != nil {
			fmt.Println("Aborted.")
			return nil
		}

		path, err := config.InitDefaultConfig()
		if errors.Is(err, os.ErrExist) {
			fmt.Println("Configuration already exists at:")
			fmt.Println("  ", path)
			fmt.Println("It is now active; edit the file to change it.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		fmt.Println("Config created at:", path)
		fmt.Printf("This config is now active (label: %s).\n", config.DefaultLabel)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}
