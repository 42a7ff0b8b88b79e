package demo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Scenario describes one triggerable demo incident. Service names a
// routing key in the configuration; the incident gateway's events API
// turns the scenario into a live incident.
type Scenario struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Service   string `json:"service"`
	Summary   string `json:"summary,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Component string `json:"component,omitempty"`
	Group     string `json:"group,omitempty"`
}

// ScenarioSet is the catalog exposed by the trigger endpoint.
type ScenarioSet struct {
	Scenarios []Scenario `json:"scenarios"`
}

// DefaultScenarios is the built-in scenario catalog.
func DefaultScenarios() ScenarioSet {
	return ScenarioSet{Scenarios: []Scenario{
		{
			ID:       "checkout-latency",
			Title:    "Checkout latency above SLO",
			Service:  "checkout",
			Summary:  "p99 latency on the checkout service has exceeded 2s for 10 minutes.",
			Severity: "critical",
			Group:    "payments",
		},
		{
			ID:       "db-connection-pool",
			Title:    "Database connection pool exhausted",
			Service:  "orders",
			Summary:  "Primary orders database is rejecting new connections.",
			Severity: "critical",
			Group:    "storage",
		},
		{
			ID:       "queue-backlog",
			Title:    "Event queue backlog growing",
			Service:  "events",
			Summary:  "Consumer lag on the events pipeline has crossed 500k messages.",
			Severity: "error",
			Group:    "streaming",
		},
		{
			ID:       "cert-expiry",
			Title:    "TLS certificate expiring soon",
			Service:  "edge",
			Summary:  "Edge certificate expires in under 24 hours and auto-renew failed.",
			Severity: "warning",
			Group:    "platform",
		},
		{
			ID:       "disk-pressure",
			Title:    "Disk pressure on search cluster",
			Service:  "search",
			Summary:  "Search nodes above 90% disk, indexing throttled.",
			Severity: "error",
			Group:    "search",
		},
	}}
}

// LoadScenarios reads a scenario catalog override from a JSON file,
// validating against the embedded schema first.
func LoadScenarios(path string) (ScenarioSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ScenarioSet{}, err
	}
	if err := validateAgainstSchema("schemas/scenarios.json", data); err != nil {
		return ScenarioSet{}, fmt.Errorf("scenarios %s: %w", path, err)
	}
	var set ScenarioSet
	if err := json.Unmarshal(data, &set); err != nil {
		return ScenarioSet{}, err
	}
	if len(set.Scenarios) == 0 {
		return ScenarioSet{}, errors.New("scenario catalog is empty")
	}
	return set, nil
}

// ByID looks up a scenario. Returns false when id is unknown.
func (s ScenarioSet) ByID(id string) (Scenario, bool) {
	for _, sc := range s.Scenarios {
		if sc.ID == id {
			return sc, true
		}
	}
	return Scenario{}, false
}

// Pick returns a random scenario from the set.
func (s ScenarioSet) Pick(r Rand) Scenario {
	if len(s.Scenarios) == 0 {
		return Scenario{}
	}
	return s.Scenarios[r.Intn(len(s.Scenarios))]
}
