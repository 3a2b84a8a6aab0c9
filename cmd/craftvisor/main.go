package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by client subcommands.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}
	root := &cobra.Command{
		Use:   "craftvisor",
		Short: "Minecraft server supervisor",
		Long: `craftvisor runs a Minecraft server as a child process, watches its console
and resource usage, and exposes an HTTP API to control it.

Examples:
  craftvisor serve craftvisor.toml     # run the supervisor daemon
  craftvisor start                     # start the server via the daemon
  craftvisor cmd say hello             # send a console command
  craftvisor metrics --average 5m      # averaged resource usage
  craftvisor status --api-url=http://host:8765/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon API URL (default http://127.0.0.1:8765/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	c := command{flags: flags}
	root.AddCommand(
		createServeCommand(flags),
		c.startCommand(),
		c.stopCommand(),
		c.restartCommand(),
		c.cmdCommand(),
		c.statusCommand(),
		c.metricsCommand(),
		c.alertsCommand(),
		c.consoleCommand(),
		c.eulaCommand(),
		c.historyCommand(),
		c.launchCommand(),
	)
	return root
}
