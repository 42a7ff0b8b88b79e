package config

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
)

type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Storage   StorageConfig   `json:"storage"`
	Temporal  TemporalConfig  `json:"temporal"`
	PagerDuty PagerDutyConfig `json:"pagerduty"`
	Slack     SlackConfig     `json:"slack"`
	Webhook   WebhookConfig   `json:"webhook"`
	Demo      DemoConfig      `json:"demo"`
	Notifier  NotifierConfig  `json:"notifier"`
	Janitor   JanitorConfig   `json:"janitor"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type StorageConfig struct {
	PostgresDSN         string `json:"postgres_dsn"`
	MaxOpenConns        int    `json:"max_open_conns"`
	MaxIdleConns        int    `json:"max_idle_conns"`
	ConnMaxLifetimeSecs int    `json:"conn_max_lifetime_secs"`
}

type TemporalConfig struct {
	Addr      string `json:"addr"`
	Namespace string `json:"namespace"`
	TaskQueue string `json:"task_queue"`
}

type PagerDutyConfig struct {
	Addr       string `json:"addr"`
	EventsAddr string `json:"events_addr"`
	Token      string `json:"token"`
}

type SlackConfig struct {
	Addr        string `json:"addr"`
	BotToken    string `json:"bot_token"`
	WorkspaceID string `json:"workspace_id"`
}

type WebhookConfig struct {
	// Secret signs inbound webhook bodies. Empty means permissive
	// mode: every delivery is accepted without verification.
	Secret string `json:"secret"`
}

type DemoConfig struct {
	Marker                string            `json:"marker"`
	RetentionHours        int               `json:"retention_hours"`
	PauseTimeoutMins      int               `json:"pause_timeout_mins"`
	AckDelayRangeSecs     [2]int            `json:"ack_delay_range_secs"`
	ActionDelayRangeSecs  [2]int            `json:"action_delay_range_secs"`
	ResolveDelayRangeSecs [2]int            `json:"resolve_delay_range_secs"`
	ResumeDelayRangeSecs  [2]int            `json:"resume_delay_range_secs"`
	ResponderWeights      []int             `json:"responder_weights"`
	PriorityIDs           []string          `json:"priority_ids"`
	ObserverUserID        string            `json:"observer_user_id"`
	ObserverEmail         string            `json:"observer_email"`
	ObserverSlackID       string            `json:"observer_slack_id"`
	RosterFile            string            `json:"roster_file"`
	ScenariosFile         string            `json:"scenarios_file"`
	RoutingKeys           map[string]string `json:"routing_keys"`
}

type NotifierConfig struct {
	Enabled      bool   `json:"enabled"`
	CronSpec     string `json:"cron_spec"`
	LookbackMins int    `json:"lookback_mins"`
}

type JanitorConfig struct {
	CronSpec string `json:"cron_spec"`
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) applyDefaults() {
	if c.PagerDuty.Addr == "" {
		c.PagerDuty.Addr = "https://api.pagerduty.com"
	}
	if c.PagerDuty.EventsAddr == "" {
		c.PagerDuty.EventsAddr = "https://events.pagerduty.com/v2/enqueue"
	}
	if c.Slack.Addr == "" {
		c.Slack.Addr = "https://slack.com/api"
	}
	if c.Temporal.Namespace == "" {
		c.Temporal.Namespace = "default"
	}
	if c.Temporal.TaskQueue == "" {
		c.Temporal.TaskQueue = "demo-callbacks"
	}
	if c.Demo.Marker == "" {
		c.Demo.Marker = "[DEMO]"
	}
	if c.Demo.RetentionHours <= 0 {
		c.Demo.RetentionHours = 24
	}
	if c.Demo.PauseTimeoutMins <= 0 {
		c.Demo.PauseTimeoutMins = 15
	}
	if c.Demo.AckDelayRangeSecs == [2]int{} {
		c.Demo.AckDelayRangeSecs = [2]int{30, 120}
	}
	if c.Demo.ActionDelayRangeSecs == [2]int{} {
		c.Demo.ActionDelayRangeSecs = [2]int{60, 180}
	}
	if c.Demo.ResolveDelayRangeSecs == [2]int{} {
		c.Demo.ResolveDelayRangeSecs = [2]int{120, 300}
	}
	if c.Demo.ResumeDelayRangeSecs == [2]int{} {
		c.Demo.ResumeDelayRangeSecs = [2]int{30, 90}
	}
	if len(c.Demo.ResponderWeights) == 0 {
		c.Demo.ResponderWeights = []int{65, 25, 7, 3}
	}
	if c.Notifier.CronSpec == "" {
		c.Notifier.CronSpec = "@every 2m"
	}
	if c.Notifier.LookbackMins <= 0 {
		c.Notifier.LookbackMins = 10
	}
	if c.Janitor.CronSpec == "" {
		c.Janitor.CronSpec = "@every 10m"
	}
}

func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr required")
	}
	if c.Storage.PostgresDSN == "" {
		return errors.New("storage.postgres_dsn required")
	}
	if c.Temporal.Addr == "" {
		return errors.New("temporal.addr required")
	}
	if strings.TrimSpace(c.PagerDuty.Token) == "" {
		return errors.New("pagerduty.token required")
	}
	if len(c.Demo.ResponderWeights) != 4 {
		return errors.New("demo.responder_weights requires exactly 4 entries")
	}
	total := 0
	for _, w := range c.Demo.ResponderWeights {
		if w < 0 {
			return errors.New("demo.responder_weights entries must be non-negative")
		}
		total += w
	}
	if total == 0 {
		return errors.New("demo.responder_weights must not sum to zero")
	}
	for _, r := range [][2]int{
		c.Demo.AckDelayRangeSecs,
		c.Demo.ActionDelayRangeSecs,
		c.Demo.ResolveDelayRangeSecs,
		c.Demo.ResumeDelayRangeSecs,
	} {
		if r[0] <= 0 || r[1] < r[0] {
			return errors.New("demo delay ranges must be positive and ordered min <= max")
		}
	}
	return nil
}
