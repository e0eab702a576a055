package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "bffd",
		Short:        "bffd - backend-for-frontend session server",
		Long:         `bffd keeps OAuth tokens server-side and hands the browser an opaque session cookie.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newKeygenCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
