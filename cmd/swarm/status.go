package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/JourdanThomas/CubeSat/internal/client"
	"github.com/JourdanThomas/CubeSat/internal/config"
	"github.com/JourdanThomas/CubeSat/internal/logger"
	"github.com/JourdanThomas/CubeSat/internal/worker"
)

func newStatusCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
		metrics bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the queue and connected workers of a running hub",
		Run: func(cmd *cobra.Command, args []string) {
			if !cmd.Flags().Changed("addr") {
				cfg := config.NewHubConfig()
				cfg.LoadFromEnvironment()
				if cfg.StatusAddr != "" {
					addr = cfg.StatusAddr
				}
			}

			c := client.NewStatusClient(addr, timeout)

			if metrics {
				text, err := c.Metrics()
				if err != nil {
					logger.Fatal("Failed to fetch metrics from %s: %v", addr, err)
				}
				fmt.Print(text)
				return
			}

			status, err := c.Status()
			if err != nil {
				logger.Fatal("Failed to fetch status from %s: %v", addr, err)
			}

			header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
			fmt.Println(header.Render(fmt.Sprintf("Pending: %d  Completed: %d  Workers: %d",
				status.Pending, status.Completed, len(status.Sessions))))

			if len(status.Sessions) == 0 {
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WORKER\tREMOTE\tSTATE\tTASK\tDONE\tLAST SEEN")
			for _, s := range status.Sessions {
				task := "-"
				if s.CurrentTask != 0 {
					task = fmt.Sprint(s.CurrentTask)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s ago\n",
					valueOr(s.WorkerID, "?"), s.RemoteAddr, s.State, task, s.TasksCompleted,
					time.Since(s.LastSeen).Truncate(time.Second))
			}
			w.Flush()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":9100", "Hub status address (host:port or URL)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "Print raw Prometheus metrics instead")

	return cmd
}

func newIdentityCmd() *cobra.Command {
	var cpuinfo string

	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Print the identifier this machine reports as a worker",
		Run: func(cmd *cobra.Command, args []string) {
			if id := os.Getenv("SWARM_WORKER_ID"); id != "" {
				fmt.Println(id)
				return
			}
			fmt.Println(worker.Identity(cpuinfo, os.Hostname))
		},
	}
	cmd.Flags().StringVar(&cpuinfo, "cpuinfo", worker.DefaultCPUInfoPath, "File to read the CPU serial from")

	return cmd
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
