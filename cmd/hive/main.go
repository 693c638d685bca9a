package main

import (
	"fmt"
	"os"

	"github.com/fentz26/hive/internal/controlplane"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "hive",
	Short:   "Hive - topic bus and task-queue nodes",
	Long:    `Hive runs nodes that exchange messages over named topics and work through a prioritized, persistent task queue.`,
	Version: controlplane.Version,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7466", "API server address")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(topicCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
