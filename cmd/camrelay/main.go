package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/camrelay/camrelay/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "camrelay",
		Short:         "Camera relay - pairs a controller with a capture device and stores captured images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = version.FormatVersion(version.String())
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML or JSONC configuration file")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory holding captures, logs and the capture index")

	rootCmd.AddCommand(newServeCommand(), newCapturesCommand())
	return rootCmd
}
