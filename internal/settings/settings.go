// Package settings ingests the safelisted server settings blob into a
// typed, process-wide State.
package settings

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

type Kind string

const (
	KindString Kind = "STRING"
	KindBool   Kind = "BOOL"
	KindScalar Kind = "SCALAR"
	KindArray  Kind = "ARRAY"
)

// Value is one decoded setting. Only the field selected by Kind is set.
type Value struct {
	Name   string
	Kind   Kind
	Str    string
	Bool   bool
	Scalar float64
	Array  []any
}

type GamblingSettings struct {
	LockerLimitEnabled bool
	Modifier           float64
	PayoutBase         float64
	RandomizerMax      float64
	RandomizerMid      float64
	RandomizerMin      float64
	WinPercentage      float64
}

// LoggingSettings holds the per-action audit gates.
type LoggingSettings struct {
	AddPlayerToTerritory      bool
	DemotePlayer              bool
	Exec                      bool
	Gamble                    bool
	ModifyPlayer              bool
	PayTerritory              bool
	PromotePlayer             bool
	RemovePlayerFromTerritory bool
	RewardPlayer              bool
	TransferPoptabs           bool
	UpgradeTerritory          bool
}

type TaxSettings struct {
	TerritoryPayment float64
	TerritoryUpgrade float64
}

type State struct {
	BuildNumber        string
	CommunityID        string
	ExtDBVersion       float64
	Gambling           GamblingSettings
	Logging            LoggingSettings
	LoggingChannelID   string
	ServerID           string
	Taxes              TaxSettings
	TerritoryAdminUIDs []string
	Version            string
}

// IsTerritoryAdmin reports whether uid is on the territory admin override list.
func (s *State) IsTerritoryAdmin(uid string) bool {
	for _, u := range s.TerritoryAdminUIDs {
		if u == uid {
			return true
		}
	}
	return false
}

func (s State) clone() State {
	s.TerritoryAdminUIDs = append([]string(nil), s.TerritoryAdminUIDs...)
	return s
}

func Defaults() State {
	return State{
		Gambling: GamblingSettings{
			Modifier:      1,
			PayoutBase:    95,
			RandomizerMax: 1,
			RandomizerMid: 0.5,
			RandomizerMin: 0,
			WinPercentage: 35,
		},
		Logging: LoggingSettings{
			AddPlayerToTerritory:      true,
			DemotePlayer:              true,
			Exec:                      true,
			Gamble:                    true,
			ModifyPlayer:              true,
			PayTerritory:              true,
			PromotePlayer:             true,
			RemovePlayerFromTerritory: true,
			RewardPlayer:              true,
			TransferPoptabs:           true,
			UpgradeTerritory:          true,
		},
		TerritoryAdminUIDs: []string{},
	}
}

// Report lists what a load did with keys it could not apply.
type Report struct {
	Applied  []string
	Ignored  []string
	Warnings []string
}

// Load applies every safelisted key found in blob on top of base. Keys not
// on the safelist are ignored. A key whose value has the wrong kind keeps
// its value from base and adds a warning. Load never fails as a whole.
func Load(blob map[string]any, base State) (State, Report) {
	out := base.clone()
	var rep Report
	for _, e := range safelist {
		raw, ok := blob[e.Key]
		if !ok {
			continue
		}
		v, ok := decode(e, raw)
		if !ok {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s: want %s got %s", e.Key, e.Kind, kindOf(raw)))
			continue
		}
		if err := e.set(&out, v); err != nil {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s: %v", e.Key, err))
			continue
		}
		rep.Applied = append(rep.Applied, e.Key)
	}
	for k := range blob {
		if _, ok := byKey[k]; !ok {
			rep.Ignored = append(rep.Ignored, k)
		}
	}
	sort.Strings(rep.Ignored)
	return out, rep
}

func decode(e entry, raw any) (Value, bool) {
	v := Value{Name: e.Name, Kind: e.Kind}
	switch e.Kind {
	case KindString:
		s, ok := raw.(string)
		v.Str = s
		return v, ok
	case KindBool:
		b, ok := raw.(bool)
		v.Bool = b
		return v, ok
	case KindScalar:
		f, ok := toFloat(raw)
		v.Scalar = f
		return v, ok
	case KindArray:
		a, ok := raw.([]any)
		v.Array = a
		return v, ok
	}
	return v, false
}

func toFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func kindOf(raw any) string {
	switch x := raw.(type) {
	case string:
		return string(KindString)
	case bool:
		return string(KindBool)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "NON_FINITE"
		}
		return string(KindScalar)
	case int, int64, uint64:
		return string(KindScalar)
	case []any:
		return string(KindArray)
	case nil:
		return "NIL"
	default:
		return fmt.Sprintf("%T", raw)
	}
}

// ReadBlob reads a flat YAML (or JSON) mapping of setting keys to values.
func ReadBlob(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return map[string]any{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBlob(b)
}

func ParseBlob(b []byte) (map[string]any, error) {
	blob := map[string]any{}
	if err := yaml.Unmarshal(b, &blob); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	return blob, nil
}

// Holder publishes the current State. Readers never lock.
type Holder struct {
	cur atomic.Pointer[State]
}

func NewHolder() *Holder {
	h := &Holder{}
	s := Defaults()
	h.cur.Store(&s)
	return h
}

// Ingest loads blob on top of Defaults and publishes the result. The same
// blob always produces the same State.
func (h *Holder) Ingest(blob map[string]any) Report {
	s, rep := Load(blob, Defaults())
	h.cur.Store(&s)
	return rep
}

// Current returns the published State. Callers must not mutate it.
func (h *Holder) Current() *State {
	return h.cur.Load()
}
