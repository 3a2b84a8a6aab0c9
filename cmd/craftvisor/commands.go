package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/loykin/craftvisor/pkg/client"
	"github.com/spf13/cobra"
)

// command binds the client subcommands to the global flags.
type command struct {
	flags *GlobalFlags
}

func (c command) client() (*client.Client, error) {
	return c.clientWaiting(0)
}

// clientWaiting returns a client whose timeout covers a server-side wait.
func (c command) clientWaiting(wait time.Duration) (*client.Client, error) {
	timeout := c.flags.APITimeout
	if wait > 0 && wait+5*time.Second > timeout {
		timeout = wait + 5*time.Second
	}
	return client.New(client.Config{BaseURL: c.flags.APIUrl, Timeout: timeout})
}

func (c command) ctx(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func printStatus(w io.Writer, st client.StatusResponse) {
	if st.PID > 0 {
		_, _ = fmt.Fprintf(w, "%s (pid %d, run %d) players %d/%d\n", st.Status, st.PID, st.Run, st.Players, st.MaxPlayers)
		return
	}
	_, _ = fmt.Fprintf(w, "%s players %d/%d\n", st.Status, st.Players, st.MaxPlayers)
}

func (c command) startCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			st, err := cl.Start(c.ctx(cmd))
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func (c command) stopCommand() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the server",
		Long: `Send the stop command to the server. With --wait the command blocks until
the server has exited, killing it once the stop timeout elapses.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.clientWaiting(wait)
			if err != nil {
				return err
			}
			st, err := cl.Stop(c.ctx(cmd), wait)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the server to stop")
	return cmd
}

func (c command) restartCommand() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.clientWaiting(wait)
			if err != nil {
				return err
			}
			if err := cl.Restart(c.ctx(cmd), wait); err != nil {
				return err
			}
			if wait == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "restart scheduled")
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "restarted")
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the restart to finish")
	return cmd
}

func (c command) cmdCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cmd <text...>",
		Short: "Send a console command to the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			return cl.Command(c.ctx(cmd), strings.Join(args, " "))
		},
	}
}

func (c command) statusCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			st, err := cl.Status(c.ctx(cmd))
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (c command) metricsCommand() *cobra.Command {
	var (
		average time.Duration
		history int
	)
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show resource usage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			ctx := c.ctx(cmd)
			switch {
			case history > 0:
				snaps, err := cl.MetricsHistory(ctx, history)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snaps)
			case average > 0:
				s, err := cl.Average(ctx, average)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), s)
			default:
				s, err := cl.Metrics(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), s)
			}
		},
	}
	cmd.Flags().DurationVar(&average, "average", 0, "average over this trailing window (e.g. 5m)")
	cmd.Flags().IntVar(&history, "history", 0, "print the last N samples")
	return cmd
}

func (c command) alertsCommand() *cobra.Command {
	root := &cobra.Command{Use: "alerts", Short: "Show or change alert thresholds"}
	root.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print alert thresholds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			th, err := cl.Thresholds(c.ctx(cmd))
			if err != nil {
				return err
			}
			printThresholds(cmd.OutOrStdout(), th)
			return nil
		},
	})

	var (
		cpu, mem float64
		players  uint32
		cooldown time.Duration
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Change alert thresholds",
		Long: `Change alert thresholds. Only the flags given are changed.

Example:
  craftvisor alerts set --cpu 90 --cooldown 10m`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			patch := map[string]any{}
			fs := cmd.Flags()
			if fs.Changed("cpu") {
				patch["cpu_percent"] = cpu
			}
			if fs.Changed("memory") {
				patch["memory_percent"] = mem
			}
			if fs.Changed("players") {
				patch["player_count"] = players
			}
			if fs.Changed("cooldown") {
				patch["cooldown"] = cooldown
			}
			if len(patch) == 0 {
				return fmt.Errorf("nothing to change: pass at least one of --cpu, --memory, --players, --cooldown")
			}
			cl, err := c.client()
			if err != nil {
				return err
			}
			th, err := cl.SetThresholds(c.ctx(cmd), patch)
			if err != nil {
				return err
			}
			printThresholds(cmd.OutOrStdout(), th)
			return nil
		},
	}
	set.Flags().Float64Var(&cpu, "cpu", 0, "CPU percent threshold")
	set.Flags().Float64Var(&mem, "memory", 0, "memory percent threshold")
	set.Flags().Uint32Var(&players, "players", 0, "player count threshold")
	set.Flags().DurationVar(&cooldown, "cooldown", 0, "minimum delay between alerts of one kind")
	root.AddCommand(set)
	return root
}

func printThresholds(w io.Writer, th client.Thresholds) {
	_, _ = fmt.Fprintf(w, "cpu %.1f%%  memory %.1f%%  players %d  cooldown %s\n",
		th.CPUPercent, th.MemoryPercent, th.PlayerCount, th.Cooldown)
}

func (c command) consoleCommand() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Print recent console output",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			out, err := cl.Console(c.ctx(cmd), lines)
			if err != nil {
				return err
			}
			for _, l := range out {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s\n", l.Time.Format("15:04:05"), l.Source, l.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines")
	return cmd
}

func (c command) eulaCommand() *cobra.Command {
	var accept bool
	cmd := &cobra.Command{
		Use:   "eula",
		Short: "Show or accept the Minecraft EULA",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			if accept {
				if err := cl.AcceptEULA(c.ctx(cmd)); err != nil {
					return err
				}
			}
			ok, err := cl.EULA(c.ctx(cmd))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "eula accepted: %t\n", ok)
			return nil
		},
	}
	cmd.Flags().BoolVar(&accept, "accept", false, "accept the EULA")
	return cmd
}

func (c command) historyCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List lifecycle history records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			events, err := cl.History(c.ctx(cmd), limit)
			if err != nil {
				return err
			}
			for _, e := range events {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %-6s run %d %s\n",
					e.OccurredAt.Format(time.RFC3339), e.Type, e.Record.Run, e.Record.Status)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records")
	return cmd
}

func (c command) launchCommand() *cobra.Command {
	var (
		jar, java, workDir string
		args               []string
		stopTimeout        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Show or change the launch configuration",
		Long: `Show the launch configuration used for the next start. Flags change the
given fields; the running server is not affected until it is restarted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			ctx := c.ctx(cmd)
			l, err := cl.Launch(ctx)
			if err != nil {
				return err
			}
			fs := cmd.Flags()
			if !fs.Changed("jar") && !fs.Changed("java") && !fs.Changed("workdir") &&
				!fs.Changed("arg") && !fs.Changed("stop-timeout") {
				return printJSON(cmd.OutOrStdout(), l)
			}
			if fs.Changed("jar") {
				l.JarPath = jar
			}
			if fs.Changed("java") {
				l.JavaPath = java
			}
			if fs.Changed("workdir") {
				l.WorkDir = workDir
			}
			if fs.Changed("arg") {
				l.Args = args
			}
			if fs.Changed("stop-timeout") {
				l.StopTimeout = stopTimeout
			}
			l, err = cl.SetLaunch(ctx, l)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), l)
		},
	}
	cmd.Flags().StringVar(&jar, "jar", "", "server jar path")
	cmd.Flags().StringVar(&java, "java", "", "java executable")
	cmd.Flags().StringVar(&workDir, "workdir", "", "server working directory")
	cmd.Flags().StringArrayVar(&args, "arg", nil, "JVM argument (repeatable, replaces the list)")
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 0, "graceful stop timeout")
	return cmd
}
