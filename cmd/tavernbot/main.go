// Package main is the entry point for the tavernbot CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tavernbot/pkg/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tavernbot",
	Short: "tavernbot - a Discord bot for tabletop groups",
	Long: `tavernbot keeps a tabletop group's Discord guild running: dice,
character sheets, feed announcements, votes, and per-guild configuration.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetFullVersion())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
