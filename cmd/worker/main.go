package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"demopulse/internal/audit"
	"demopulse/internal/config"
	"demopulse/internal/db"
	"demopulse/internal/demo"
	"demopulse/internal/logging"
	"demopulse/internal/pagerduty"
	"demopulse/internal/slack"
	"demopulse/internal/workflows"
)

func main() {
	logging.Init("worker", nil)
	if err := run(os.Args[1:]); err != nil {
		fatalf("worker: %v", err)
	}
}

var fatalf = func(format string, args ...any) {
	slog.Error("fatal", "error", fmt.Sprintf(format, args...))
	os.Exit(1)
}
var loadConfig = config.LoadConfig
var newDB = db.NewDB
var newTemporalClient = func(cfg config.TemporalConfig) (client.Client, error) {
	return client.Dial(client.Options{HostPort: cfg.Addr, Namespace: cfg.Namespace})
}
var newWorker = func(c client.Client, taskQueue string) worker.Worker {
	return worker.New(c, taskQueue, worker.Options{})
}
var runWorker = func(w worker.Worker) error { return w.Run(worker.InterruptCh()) }

func settingsFromConfig(cfg config.DemoConfig) demo.Settings {
	rng := func(r [2]int) demo.DelayRange {
		return demo.DelayRange{
			Min: time.Duration(r[0]) * time.Second,
			Max: time.Duration(r[1]) * time.Second,
		}
	}
	return demo.Settings{
		Marker:           cfg.Marker,
		Retention:        time.Duration(cfg.RetentionHours) * time.Hour,
		PauseTimeout:     time.Duration(cfg.PauseTimeoutMins) * time.Minute,
		AckDelay:         rng(cfg.AckDelayRangeSecs),
		ActionDelay:      rng(cfg.ActionDelayRangeSecs),
		ResolveDelay:     rng(cfg.ResolveDelayRangeSecs),
		ResumeDelay:      rng(cfg.ResumeDelayRangeSecs),
		ResponderWeights: cfg.ResponderWeights,
		PriorityIDs:      cfg.PriorityIDs,
		RoutingKeys:      cfg.RoutingKeys,
		ObserverSlackID:  cfg.ObserverSlackID,
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return errors.New("config required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	database, err := newDB(cfg.Storage.PostgresDSN)
	if err != nil {
		return err
	}
	defer database.Close()

	temporalClient, err := newTemporalClient(cfg.Temporal)
	if err != nil {
		return err
	}
	defer temporalClient.Close()

	roster := demo.DefaultRoster()
	if cfg.Demo.RosterFile != "" {
		if roster, err = demo.LoadRoster(cfg.Demo.RosterFile); err != nil {
			return fmt.Errorf("load roster: %w", err)
		}
	}
	scenarios := demo.DefaultScenarios()
	if cfg.Demo.ScenariosFile != "" {
		if scenarios, err = demo.LoadScenarios(cfg.Demo.ScenariosFile); err != nil {
			return fmt.Errorf("load scenarios: %w", err)
		}
	}

	engine := demo.NewEngine(demo.Deps{
		Store:     database,
		Scheduler: &workflows.TemporalScheduler{Client: temporalClient, TaskQueue: cfg.Temporal.TaskQueue},
		Incidents: pagerduty.NewClient(cfg.PagerDuty.Addr, cfg.PagerDuty.EventsAddr, cfg.PagerDuty.Token),
		Chat:      slack.NewClient(cfg.Slack.Addr, cfg.Slack.BotToken),
		Audit:     audit.NewWithDB(database),
		Roster:    roster,
		Scenarios: scenarios,
		Settings:  settingsFromConfig(cfg.Demo),
	})

	w := newWorker(temporalClient, cfg.Temporal.TaskQueue)
	w.RegisterWorkflow(workflows.DeferredCallbackWorkflow)
	w.RegisterActivity(&workflows.Activities{Handler: engine})
	slog.Info("worker ready", "temporal_addr", cfg.Temporal.Addr, "task_queue", cfg.Temporal.TaskQueue)
	return runWorker(w)
}
