package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/smartview/internal/library"
	"github.com/roach88/smartview/internal/queryir"
)

// DefaultNow is the evaluation time of scenarios that do not set one.
var DefaultNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// Scenario defines a conformance test scenario: a starting collection, a
// sequence of mutations, and assertions on the resulting playlists.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Now fixes the evaluation time for relative date predicates.
	// Defaults to DefaultNow.
	Now *time.Time `yaml:"now,omitempty"`

	// Definitions lists CUE files of smart playlists created after setup.
	// Paths are relative to the scenario file location.
	Definitions []string `yaml:"definitions,omitempty"`

	// Setup establishes the starting collection. It is traced as the
	// "setup" step.
	Setup Setup `yaml:"setup"`

	// Steps are applied in order. The controller is flushed after each
	// one, so every step observes exact views.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final views.
	Assertions []Assertion `yaml:"assertions"`
}

// Setup is the starting state of a scenario.
type Setup struct {
	Items     []library.ItemSpec `yaml:"items,omitempty"`
	Playlists []StaticSpec       `yaml:"playlists,omitempty"`
	Smart     []SmartSpec        `yaml:"smart,omitempty"`
}

// StaticSpec declares a static playlist.
type StaticSpec struct {
	ID    int64   `yaml:"id"`
	Name  string  `yaml:"name"`
	Items []int64 `yaml:"items,omitempty"`
}

// SmartSpec declares a smart playlist. Where uses the predicate encoding
// of package queryir; a list is the conjunction of its elements.
type SmartSpec struct {
	ID    int64  `yaml:"id"`
	Name  string `yaml:"name"`
	Where any    `yaml:"where,omitempty"`
	Order string `yaml:"order,omitempty"`
	Limit string `yaml:"limit,omitempty"`
}

// Definition converts the spec to a validated definition.
func (s SmartSpec) Definition() (queryir.Definition, error) {
	def := queryir.Definition{ID: s.ID, Name: s.Name}
	if s.Where != nil {
		where := s.Where
		if list, ok := where.([]any); ok {
			where = map[string]any{"op": "and", "args": list}
		}
		data, err := json.Marshal(where)
		if err != nil {
			return def, fmt.Errorf("smart %q: where: %w", s.Name, err)
		}
		if def.Query.Filter, err = queryir.UnmarshalPredicate(data); err != nil {
			return def, fmt.Errorf("smart %q: where: %w", s.Name, err)
		}
	}
	var err error
	if def.Query.Order, err = queryir.ParseOrder(s.Order); err != nil {
		return def, fmt.Errorf("smart %q: %w", s.Name, err)
	}
	if def.Query.Limit, err = queryir.ParseLimit(s.Limit); err != nil {
		return def, fmt.Errorf("smart %q: %w", s.Name, err)
	}
	return def, nil
}

// PlaylistItems names items of a static playlist.
type PlaylistItems struct {
	Playlist int64   `yaml:"playlist"`
	Items    []int64 `yaml:"items"`
}

// Step is a single mutation. Exactly one operation field must be set.
type Step struct {
	// Name labels the step in the trace. Defaults to "step-N".
	Name string `yaml:"name,omitempty"`

	AddItems           []library.ItemSpec `yaml:"add_items,omitempty"`
	UpdateItems        []library.ItemSpec `yaml:"update_items,omitempty"`
	RemoveItems        []int64            `yaml:"remove_items,omitempty"`
	CreatePlaylist     *StaticSpec        `yaml:"create_playlist,omitempty"`
	DeletePlaylist     int64              `yaml:"delete_playlist,omitempty"`
	AddToPlaylist      *PlaylistItems     `yaml:"add_to_playlist,omitempty"`
	RemoveFromPlaylist *PlaylistItems     `yaml:"remove_from_playlist,omitempty"`
	CreateSmart        *SmartSpec         `yaml:"create_smart,omitempty"`
	UpdateSmart        *SmartSpec         `yaml:"update_smart,omitempty"`
	RenameSmart        *SmartSpec         `yaml:"rename_smart,omitempty"`
	DeleteSmart        int64              `yaml:"delete_smart,omitempty"`
	Refresh            int64              `yaml:"refresh,omitempty"`
	RefreshAll         bool               `yaml:"refresh_all,omitempty"`
	Reload             bool               `yaml:"reload,omitempty"`
}

// operations counts the operation fields that are set.
func (s Step) operations() int {
	n := 0
	for _, set := range []bool{
		len(s.AddItems) > 0,
		len(s.UpdateItems) > 0,
		len(s.RemoveItems) > 0,
		s.CreatePlaylist != nil,
		s.DeletePlaylist != 0,
		s.AddToPlaylist != nil,
		s.RemoveFromPlaylist != nil,
		s.CreateSmart != nil,
		s.UpdateSmart != nil,
		s.RenameSmart != nil,
		s.DeleteSmart != 0,
		s.Refresh != 0,
		s.RefreshAll,
		s.Reload,
	} {
		if set {
			n++
		}
	}
	return n
}

// Assertion validates the trace or the final views.
type Assertion struct {
	// Type specifies the assertion type:
	// - "members": the playlist's members equal Expect, in order
	// - "count": the playlist has Count members
	// - "notified": the trace holds notifications of Kind for the playlist
	//   (exactly Count of them when Count is set)
	// - "consistent": every live playlist's committed membership equals
	//   its in-memory set
	Type string `yaml:"type"`

	Playlist int64   `yaml:"playlist,omitempty"`
	Expect   []int64 `yaml:"expect,omitempty"`
	Count    *int    `yaml:"count,omitempty"`
	Kind     string  `yaml:"kind,omitempty"`
	Step     string  `yaml:"step,omitempty"`
}

// Assertion type constants.
const (
	AssertMembers    = "members"
	AssertCount      = "count"
	AssertNotified   = "notified"
	AssertConsistent = "consistent"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// Definition paths are resolved relative to the file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i, def := range scenario.Definitions {
		if !filepath.IsAbs(def) {
			scenario.Definitions[i] = filepath.Join(base, def)
		}
	}
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and assertion shapes.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("at least one assertion is required")
	}
	for i, step := range s.Steps {
		switch n := step.operations(); {
		case n == 0:
			return fmt.Errorf("steps[%d]: no operation", i)
		case n > 1:
			return fmt.Errorf("steps[%d]: %d operations, want exactly one", i, n)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, i); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(a Assertion, index int) error {
	switch a.Type {
	case AssertMembers:
		if a.Playlist == 0 {
			return fmt.Errorf("assertions[%d]: playlist is required for members", index)
		}
	case AssertCount:
		if a.Playlist == 0 {
			return fmt.Errorf("assertions[%d]: playlist is required for count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for count", index)
		}
	case AssertNotified:
		if a.Playlist == 0 || a.Kind == "" {
			return fmt.Errorf("assertions[%d]: playlist and kind are required for notified", index)
		}
		if a.Count != nil && *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for notified", index)
		}
	case AssertConsistent:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
