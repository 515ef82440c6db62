package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"realty-bot/internal/config"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "realtybot",
		Short:         "WhatsApp lead bot for real-estate agencies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "path to a YAML config file (env vars override it)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSimulateCmd())
	cmd.AddCommand(newSeedCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "realtybot %s (commit: %s)\n", Version, Commit)
		},
	}
}

// loadConfig reads .env (when present), then the --config file and the
// environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	_ = godotenv.Load()
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path, os.LookupEnv)
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
