// Package stage defines the forward-only lifecycle a dataset moves through.
package stage

import (
	"encoding/json"
	"strings"

	"github.com/teranos/tessera/errors"
)

// Stage is a lifecycle stage. Stages are totally ordered; Raw is first and Published is terminal.
type Stage int

const (
	Raw Stage = iota
	Profiled
	Cleaned
	Advanced
	Validated
	Published
)

var names = [...]string{"Raw", "Profiled", "Cleaned", "Advanced", "Validated", "Published"}

// All returns every stage in order.
func All() []Stage {
	return []Stage{Raw, Profiled, Cleaned, Advanced, Validated, Published}
}

func (s Stage) String() string {
	if !s.Valid() {
		return "Unknown"
	}
	return names[s]
}

// Valid reports whether s is one of the defined stages.
func (s Stage) Valid() bool {
	return s >= Raw && s <= Published
}

// Next returns the immediate successor; Published has none.
func (s Stage) Next() (Stage, bool) {
	if !s.Valid() || s == Published {
		return s, false
	}
	return s + 1, true
}

// CanTransition holds iff to is strictly later than from. Stages may be skipped
// but never repeated or reversed.
func CanTransition(from, to Stage) bool {
	return from.Valid() && to.Valid() && to > from
}

// Parse reads a stage name, case-insensitively.
func Parse(s string) (Stage, error) {
	for i, n := range names {
		if strings.EqualFold(strings.TrimSpace(s), n) {
			return Stage(i), nil
		}
	}
	return Raw, errors.NewInvalidRequestError("unknown lifecycle stage %q", s)
}

func (s Stage) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, errors.Newf("invalid stage %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *Stage) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := Parse(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// PublishMode chooses how a published version gets its data.
type PublishMode int

const (
	// View aliases the source version's location; nothing is written.
	View PublishMode = iota
	// Snapshot materializes the source version into a fresh artifact.
	Snapshot
)

func (m PublishMode) String() string {
	if m == Snapshot {
		return "snapshot"
	}
	return "view"
}

// ParsePublishMode reads "view" or "snapshot".
func ParsePublishMode(s string) (PublishMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "view":
		return View, nil
	case "snapshot":
		return Snapshot, nil
	}
	return View, errors.NewInvalidRequestError("unknown publish mode %q (want view or snapshot)", s)
}

func (m PublishMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *PublishMode) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := ParsePublishMode(name)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
