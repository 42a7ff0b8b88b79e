package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.temporal.io/sdk/client"

	"demopulse/internal/audit"
	"demopulse/internal/config"
	"demopulse/internal/db"
	"demopulse/internal/demo"
	"demopulse/internal/logging"
	"demopulse/internal/pagerduty"
	"demopulse/internal/slack"
	"demopulse/internal/web"
	"demopulse/internal/workflows"
)

func main() {
	logging.Init("orchestrator", nil)
	if err := run(os.Args[1:]); err != nil {
		fatalf("orchestrator: %v", err)
	}
}

var fatalf = func(format string, args ...any) {
	slog.Error("fatal", "error", fmt.Sprintf(format, args...))
	os.Exit(1)
}
var loadConfig = config.LoadConfig
var newDB = func(cfg config.StorageConfig) (*db.DB, error) {
	pool := db.DefaultPoolConfig()
	if cfg.MaxOpenConns > 0 {
		pool.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		pool.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetimeSecs > 0 {
		pool.ConnMaxLifetime = time.Duration(cfg.ConnMaxLifetimeSecs) * time.Second
	}
	return db.NewDBWithPool(cfg.PostgresDSN, pool)
}
var newTemporalClient = func(cfg config.TemporalConfig) (client.Client, error) {
	return client.Dial(client.Options{HostPort: cfg.Addr, Namespace: cfg.Namespace})
}
var listenAndServe = func(srv *http.Server) error { return srv.ListenAndServe() }

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

func loadRosterAndScenarios(cfg config.DemoConfig) (demo.Roster, demo.ScenarioSet, error) {
	roster := demo.DefaultRoster()
	scenarios := demo.DefaultScenarios()
	if cfg.RosterFile != "" {
		r, err := demo.LoadRoster(cfg.RosterFile)
		if err != nil {
			return roster, scenarios, fmt.Errorf("load roster: %w", err)
		}
		roster = r
	}
	if cfg.ScenariosFile != "" {
		s, err := demo.LoadScenarios(cfg.ScenariosFile)
		if err != nil {
			return roster, scenarios, fmt.Errorf("load scenarios: %w", err)
		}
		scenarios = s
	}
	return roster, scenarios, nil
}

func run(args []string) error {
	fs := flag.NewFlagSet("orchestrator", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return errors.New("config required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	database, err := newDB(cfg.Storage)
	if err != nil {
		return err
	}
	defer database.Close()

	temporalClient, err := newTemporalClient(cfg.Temporal)
	if err != nil {
		return err
	}
	defer temporalClient.Close()

	roster, scenarios, err := loadRosterAndScenarios(cfg.Demo)
	if err != nil {
		return err
	}

	incidents := pagerduty.NewClient(cfg.PagerDuty.Addr, cfg.PagerDuty.EventsAddr, cfg.PagerDuty.Token)
	chat := slack.NewClient(cfg.Slack.Addr, cfg.Slack.BotToken)

	engine := demo.NewEngine(demo.Deps{
		Store:     database,
		Scheduler: &workflows.TemporalScheduler{Client: temporalClient, TaskQueue: cfg.Temporal.TaskQueue},
		Incidents: incidents,
		Chat:      chat,
		Audit:     audit.NewWithDB(database),
		Roster:    roster,
		Scenarios: scenarios,
		Settings:  settingsFromConfig(cfg.Demo),
	})

	server := web.NewServer(engine)
	server.Audit = database
	server.DBConn = database.Conn()
	server.WebhookSecret = cfg.Webhook.Secret
	server.TemporalHealth = func(ctx context.Context) error {
		_, err := temporalClient.CheckHealth(ctx, &client.CheckHealthRequest{})
		return err
	}

	sched := cron.New()
	if cfg.Notifier.Enabled {
		notifier := &web.ChannelNotifier{
			Demos:           engine,
			Chat:            chat,
			Markers:         database,
			Recent:          chat,
			Lookback:        time.Duration(cfg.Notifier.LookbackMins) * time.Minute,
			ObserverSlackID: cfg.Demo.ObserverSlackID,
		}
		if _, err := sched.AddFunc(cfg.Notifier.CronSpec, func() {
			if _, err := notifier.RunOnce(ctx); err != nil {
				slog.Error("notifier sweep failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("notifier schedule: %w", err)
		}
	}
	janitor := &web.Janitor{Demos: engine, Markers: database}
	if _, err := sched.AddFunc(cfg.Janitor.CronSpec, func() {
		if _, err := janitor.RunOnce(ctx); err != nil {
			slog.Error("janitor sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("janitor schedule: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("orchestrator listening", "addr", cfg.HTTP.Addr)
		if err := listenAndServe(httpSrv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpSrv.Shutdown(sctx)
}
