package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/JourdanThomas/CubeSat/internal/config"
	"github.com/JourdanThomas/CubeSat/internal/executor"
	"github.com/JourdanThomas/CubeSat/internal/logger"
	"github.com/JourdanThomas/CubeSat/internal/process"
	"github.com/JourdanThomas/CubeSat/internal/worker"
)

// commandTimeout bounds each ip/nmcli invocation
const commandTimeout = 30 * time.Second

func newWorkerCmd() *cobra.Command {
	flags := config.NewWorkerConfig()

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a worker: join the hub's network and compute tasks",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.NewWorkerConfig()
			cfg.LoadFromEnvironment()
			applyChanged(cmd, workerOverrides(cfg, flags))
			if err := cfg.Validate(); err != nil {
				logger.Fatal("Invalid worker configuration: %v", err)
			}

			runWorker(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.HubHost, "hub-host", flags.HubHost, "Hub address")
	f.IntVarP(&flags.HubPort, "hub-port", "p", flags.HubPort, "Hub task port")
	f.IntVarP(&flags.MaxRetries, "max-retries", "r", flags.MaxRetries, "Consecutive failed connection attempts before giving up")
	f.DurationVarP(&flags.RetryDelay, "retry-delay", "d", flags.RetryDelay, "Wait between connection attempts")
	f.DurationVar(&flags.ConnectTimeout, "connect-timeout", flags.ConnectTimeout, "Timeout for the TCP connect")
	f.DurationVar(&flags.ReadTimeout, "read-timeout", flags.ReadTimeout, "Drop the connection when the hub is silent this long")
	f.DurationVar(&flags.WriteTimeout, "write-timeout", flags.WriteTimeout, "Timeout for each frame sent to the hub")
	f.DurationVar(&flags.JoinTimeout, "join-timeout", flags.JoinTimeout, "How long to wait for an address after joining the network")
	f.DurationVar(&flags.AddressPollInterval, "address-poll-interval", flags.AddressPollInterval, "How often to check for an address while joining")
	f.StringVar(&flags.NetworkMode, "network", flags.NetworkMode, "Network join mode: static or nmcli")
	f.StringVar(&flags.Interface, "interface", flags.Interface, "Wireless interface used in nmcli mode")
	f.StringVar(&flags.SSID, "ssid", flags.SSID, "Hub hotspot SSID used in nmcli mode")
	f.StringVar(&flags.Password, "password", flags.Password, "Hub hotspot password used in nmcli mode")
	f.StringVar(&flags.WorkerID, "worker-id", flags.WorkerID, "Identifier reported to the hub (default: CPU serial or hostname)")

	return cmd
}

// workerOverrides maps each flag to the config field it sets
func workerOverrides(cfg, flags *config.WorkerConfig) map[string]func() {
	return map[string]func(){
		"hub-host":              func() { cfg.HubHost = flags.HubHost },
		"hub-port":              func() { cfg.HubPort = flags.HubPort },
		"max-retries":           func() { cfg.MaxRetries = flags.MaxRetries },
		"retry-delay":           func() { cfg.RetryDelay = flags.RetryDelay },
		"connect-timeout":       func() { cfg.ConnectTimeout = flags.ConnectTimeout },
		"read-timeout":          func() { cfg.ReadTimeout = flags.ReadTimeout },
		"write-timeout":         func() { cfg.WriteTimeout = flags.WriteTimeout },
		"join-timeout":          func() { cfg.JoinTimeout = flags.JoinTimeout },
		"address-poll-interval": func() { cfg.AddressPollInterval = flags.AddressPollInterval },
		"network":               func() { cfg.NetworkMode = flags.NetworkMode },
		"interface":             func() { cfg.Interface = flags.Interface },
		"ssid":                  func() { cfg.SSID = flags.SSID },
		"password":              func() { cfg.Password = flags.Password },
		"worker-id":             func() { cfg.WorkerID = flags.WorkerID },
	}
}

func newNetwork(cfg *config.WorkerConfig) worker.Network {
	if cfg.NetworkMode == config.NetworkNMCLI {
		return &worker.NMCLINetwork{
			Interface: cfg.Interface,
			SSID:      cfg.SSID,
			Password:  cfg.Password,
			Runner:    process.ExecRunner{Timeout: commandTimeout},
		}
	}
	return worker.StaticNetwork{}
}

func runWorker(cfg *config.WorkerConfig) {
	ctx, cancel := process.SignalContext(context.Background())
	defer cancel()

	executors := executor.Builtins()
	logger.Info("Executors available: %v", executors.Types())

	session := worker.NewSession(cfg, executors, worker.WithNetwork(newNetwork(cfg)))
	err := session.Run(ctx)
	if errors.Is(err, worker.ErrRetriesExhausted) {
		logger.Fatal("Giving up on hub %s: %v", cfg.HubAddr(), err)
	}
	if err != nil {
		logger.Fatal("Worker stopped: %v", err)
	}
	logger.Info("Worker %s shut down after %d tasks", session.WorkerID(), session.TasksProcessed())
}
