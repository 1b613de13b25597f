package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor = os.Getenv("NO_COLOR") != ""

var rootCmd = &cobra.Command{
	Use:   "resumechat",
	Short: "Resume chat assistant backend",
	Long: `resumechat answers visitor questions about a resume owner, grounded in a
structured profile document.

Examples:
  resumechat serve
  resumechat ask "What are your hobbies?"
  resumechat context upload --file hidden-context.json
  resumechat logs list --limit 10`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", noColor, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(promptCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
