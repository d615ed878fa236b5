package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/craftd/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage craftd configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default craftd.kdl",
	Run:   runConfigInit,
}

func init() {
	configInitCmd.Flags().Bool("global", false, "Write the global config instead of ./craftd.kdl")
	configCmd.AddCommand(configInitCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	path := config.ServerConfigFile
	if global, _ := cmd.Flags().GetBool("global"); global {
		path = config.GlobalConfigPath()
		if path == "" {
			log.Fatal("Cannot determine the global config location")
		}
	}

	if _, err := os.Stat(path); err == nil {
		log.Fatalf("Config already exists at %s", path)
	}

	if err := config.WriteDefaultConfig(path); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	fmt.Printf("Wrote %s\n", path)
}
