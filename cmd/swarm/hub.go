package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/JourdanThomas/CubeSat/internal/config"
	"github.com/JourdanThomas/CubeSat/internal/executor"
	"github.com/JourdanThomas/CubeSat/internal/hub"
	"github.com/JourdanThomas/CubeSat/internal/logger"
	"github.com/JourdanThomas/CubeSat/internal/models"
	"github.com/JourdanThomas/CubeSat/internal/process"
	"github.com/JourdanThomas/CubeSat/internal/queue"
	"github.com/JourdanThomas/CubeSat/internal/storage"
	"github.com/JourdanThomas/CubeSat/internal/tui"
)

type taskSpec struct {
	Type string
	Data map[string]any
}

// demoTasks exercise every built-in executor once
var demoTasks = []taskSpec{
	{Type: executor.TypePrimeCheck, Data: map[string]any{"number": 97}},
	{Type: executor.TypeFibonacci, Data: map[string]any{"n": 30}},
	{Type: executor.TypeMatrixMultiply, Data: map[string]any{"size": 100}},
}

// parseTaskSpec reads "type" or "type:{json object}"
func parseTaskSpec(s string) (taskSpec, error) {
	taskType, rawData, hasData := strings.Cut(s, ":")
	taskType = strings.TrimSpace(taskType)
	if taskType == "" {
		return taskSpec{}, fmt.Errorf("task %q has no type", s)
	}

	spec := taskSpec{Type: taskType}
	if hasData && strings.TrimSpace(rawData) != "" {
		if err := json.Unmarshal([]byte(rawData), &spec.Data); err != nil {
			return taskSpec{}, fmt.Errorf("task %q: data must be a JSON object: %w", s, err)
		}
	}
	return spec, nil
}

func newHubCmd() *cobra.Command {
	flags := config.NewHubConfig()
	var (
		taskFlags []string
		demo      bool
		useTUI    bool
	)

	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run the hub: queue tasks and dispatch them to workers",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.NewHubConfig()
			cfg.LoadFromEnvironment()
			applyChanged(cmd, map[string]func(){
				"bind":                  func() { cfg.BindHost = flags.BindHost },
				"port":                  func() { cfg.Port = flags.Port },
				"idle-interval":         func() { cfg.IdleInterval = flags.IdleInterval },
				"result-timeout":        func() { cfg.ResultTimeout = flags.ResultTimeout },
				"write-timeout":         func() { cfg.WriteTimeout = flags.WriteTimeout },
				"liveness-timeout":      func() { cfg.LivenessTimeout = flags.LivenessTimeout },
				"requeue-on-disconnect": func() { cfg.RequeueOnDisconnect = flags.RequeueOnDisconnect },
				"status-addr":           func() { cfg.StatusAddr = flags.StatusAddr },
				"results-file":          func() { cfg.ResultsFile = flags.ResultsFile },
				"log-dir":               func() { cfg.LogDir = flags.LogDir },
			})
			if err := cfg.Validate(); err != nil {
				logger.Fatal("Invalid hub configuration: %v", err)
			}

			var seeds []taskSpec
			if demo {
				seeds = append(seeds, demoTasks...)
			}
			for _, s := range taskFlags {
				spec, err := parseTaskSpec(s)
				if err != nil {
					logger.Fatal("Invalid --task: %v", err)
				}
				seeds = append(seeds, spec)
			}

			runHub(cfg, seeds, useTUI)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.BindHost, "bind", flags.BindHost, "Address to bind the task listener to")
	f.IntVarP(&flags.Port, "port", "p", flags.Port, "Port workers connect to")
	f.DurationVar(&flags.IdleInterval, "idle-interval", flags.IdleInterval, "Wait between heartbeats to an idle worker")
	f.DurationVar(&flags.ResultTimeout, "result-timeout", flags.ResultTimeout, "How long to wait for a dispatched task's result")
	f.DurationVar(&flags.WriteTimeout, "write-timeout", flags.WriteTimeout, "Deadline for sending one message")
	f.DurationVar(&flags.LivenessTimeout, "liveness-timeout", flags.LivenessTimeout, "Drop idle workers that have not acknowledged for this long (0 disables)")
	f.BoolVar(&flags.RequeueOnDisconnect, "requeue-on-disconnect", flags.RequeueOnDisconnect, "Put a task back in the queue when its worker disconnects")
	f.StringVar(&flags.StatusAddr, "status-addr", flags.StatusAddr, "Address for /status and /metrics (empty disables)")
	f.StringVar(&flags.ResultsFile, "results-file", flags.ResultsFile, "Write all results to this JSON file on shutdown")
	f.StringVar(&flags.LogDir, "log-dir", flags.LogDir, "Log directory used in TUI mode")
	f.StringArrayVarP(&taskFlags, "task", "t", nil, `Task to queue at startup, as type or type:{json}, e.g. 'fibonacci:{"n":10}' (repeatable)`)
	f.BoolVar(&demo, "demo", false, "Queue one task for each built-in executor")
	f.BoolVar(&useTUI, "tui", false, "Show the interactive hub monitor")

	return cmd
}

func runHub(cfg *config.HubConfig, seeds []taskSpec, useTUI bool) {
	ctx, cancel := process.SignalContext(context.Background())
	defer cancel()

	q := queue.New()
	var opts []hub.Option

	var h *hub.Hub
	var monitor *tui.HubMonitor
	if useTUI {
		logPath, err := logger.InitFileOnly(cfg.LogDir, "swarm-hub")
		if err != nil {
			logger.Fatal("Failed to initialize file logger: %v", err)
		}
		defer logger.Close()

		monitor = tui.NewHubMonitor(func() models.HubStatus { return h.Status() }, logPath)
		logger.AddHook(monitor.LogHook(zerolog.WarnLevel))
		opts = append(opts, hub.WithObserver(monitor))
	}

	h = hub.New(cfg, q, opts...)
	if err := h.Listen(); err != nil {
		logger.Fatal("Failed to start hub: %v", err)
	}

	for _, seed := range seeds {
		id, err := h.Submit(seed.Type, seed.Data)
		if err != nil {
			logger.Error("Skipping seed task: %v", err)
			continue
		}
		go reportSeed(ctx, hub.NewWaiter(q, 200*time.Millisecond), id, monitor)
	}

	if cfg.StatusAddr != "" {
		go func() {
			if err := h.ServeStatus(ctx, cfg.StatusAddr); err != nil {
				logger.Error("Status endpoint stopped: %v", err)
			}
		}()
	}

	served := make(chan error, 1)
	go func() { served <- h.Serve(ctx) }()

	if monitor != nil {
		stop := context.AfterFunc(ctx, monitor.Stop)
		if err := monitor.Run(); err != nil {
			logger.Error("Monitor stopped: %v", err)
		}
		stop()
		cancel()
	}

	if err := <-served; err != nil {
		logger.Error("Hub stopped with error: %v", err)
	}

	logger.Info("Hub shut down: %d results recorded, %d tasks still pending", q.CompletedCount(), q.PendingCount())

	if cfg.ResultsFile != "" {
		if err := storage.SaveResults(cfg.ResultsFile, q.Results()); err != nil {
			logger.Error("Failed to export results: %v", err)
		} else {
			logger.Info("Results written to %s", cfg.ResultsFile)
		}
	}
}

// reportSeed logs the result of a task queued from the command line
func reportSeed(ctx context.Context, w *hub.Waiter, id models.TaskID, monitor *tui.HubMonitor) {
	defer w.Stop()

	result, err := w.Wait(ctx, id)
	if err != nil {
		return
	}

	var line string
	if result.Failed() {
		line = fmt.Sprintf("Task %d failed: %s", id, result.Error)
	} else {
		line = fmt.Sprintf("Task %d result: %s", id, result.Value)
	}
	logger.Info("%s", line)
	if monitor != nil {
		monitor.AddLog("🎯 " + line)
	}
}
