package demo

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Roster is the fixed cast of demo users incidents get assigned to.
type Roster struct {
	Users []Responder `json:"users"`
}

// DefaultRoster returns the built-in demo cast.
func DefaultRoster() Roster {
	return Roster{Users: []Responder{
		{ID: "PDEMO01", Email: "rhall@demo.example.com", Name: "Riley Hall", SlackID: "U0DEMO01"},
		{ID: "PDEMO02", Email: "mvega@demo.example.com", Name: "Morgan Vega", SlackID: "U0DEMO02"},
		{ID: "PDEMO03", Email: "cbrooks@demo.example.com", Name: "Casey Brooks", SlackID: "U0DEMO03"},
		{ID: "PDEMO04", Email: "dsutton@demo.example.com", Name: "Devon Sutton", SlackID: "U0DEMO04"},
		{ID: "PDEMO05", Email: "jquinn@demo.example.com", Name: "Jordan Quinn", SlackID: "U0DEMO05"},
		{ID: "PDEMO06", Email: "afrost@demo.example.com", Name: "Alex Frost", SlackID: "U0DEMO06"},
	}}
}

// LoadRoster reads a roster override from a JSON file, validating it
// against the embedded schema first.
func LoadRoster(path string) (Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, err
	}
	if err := validateAgainstSchema("schemas/roster.json", data); err != nil {
		return Roster{}, fmt.Errorf("roster %s: %w", path, err)
	}
	var roster Roster
	if err := json.Unmarshal(data, &roster); err != nil {
		return Roster{}, err
	}
	if len(roster.Users) == 0 {
		return Roster{}, errors.New("roster has no users")
	}
	return roster, nil
}

// ByID looks up a roster user, falling back to the first user so a
// stale actor id never aborts a callback.
func (r Roster) ByID(id string) Responder {
	for _, u := range r.Users {
		if u.ID == id {
			return u
		}
	}
	if len(r.Users) > 0 {
		return r.Users[0]
	}
	return Responder{}
}

// Contains reports whether id names a roster user.
func (r Roster) Contains(id string) bool {
	for _, u := range r.Users {
		if u.ID == id {
			return true
		}
	}
	return false
}

// ResponderCount rolls the configured distribution: index i in the
// weights corresponds to i+1 responders.
func (r Roster) ResponderCount(rnd Rand, weights []int) int {
	if len(weights) == 0 {
		return 1
	}
	return weightedIndex(rnd, weights) + 1
}

// Select returns the primary user followed by count-1 distinct
// additional users drawn from the rest of the roster.
func (r Roster) Select(rnd Rand, primaryID string, count int) []Responder {
	primary := r.ByID(primaryID)
	var available []Responder
	for _, u := range r.Users {
		if u.ID != primary.ID {
			available = append(available, u)
		}
	}
	additional := count - 1
	if additional > len(available) {
		additional = len(available)
	}
	out := []Responder{primary}
	for i := 0; i < additional; i++ {
		idx := rnd.Intn(len(available))
		out = append(out, available[idx])
		available = append(available[:idx], available[idx+1:]...)
	}
	return out
}

// Excluding returns roster users whose ids are not in taken.
func (r Roster) Excluding(taken map[string]bool) []Responder {
	var out []Responder
	for _, u := range r.Users {
		if !taken[u.ID] {
			out = append(out, u)
		}
	}
	return out
}

func validateAgainstSchema(schemaPath string, doc []byte) error {
	raw, err := schemaFS.ReadFile(schemaPath)
	if err != nil {
		return err
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(raw),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	if len(result.Errors()) == 0 {
		return errors.New("schema validation failed")
	}
	return fmt.Errorf("schema validation failed: %s", result.Errors()[0].String())
}
