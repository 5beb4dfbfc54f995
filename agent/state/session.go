package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LocationUnknown marks a session whose region has not been learned yet.
const LocationUnknown = "Unknown"

// Session is the per-caller farming context.
// One record per caller id; the Manager is the only writer.
type Session struct {
	ID                  string     `json:"id"`
	Language            string     `json:"language"`
	Location            string     `json:"location"`
	CurrentCrop         string     `json:"current_crop"`
	LandSizeAcres       float64    `json:"land_size_acres"`
	SowingDate          *time.Time `json:"sowing_date,omitempty"`
	LastInteractionTime time.Time  `json:"last_interaction_time"`
	LastQuery           string     `json:"last_query,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// Defaults seeds newly created sessions.
type Defaults struct {
	Language      string
	Location      string
	Crop          string
	LandSizeAcres float64
}

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNilSession      = errors.New("session is nil")
	ErrInvalidSession  = errors.New("session id is empty")
	ErrInvalidPatch    = errors.New("invalid session patch")
)

func (d Defaults) normalized() Defaults {
	out := d
	if strings.TrimSpace(out.Language) == "" {
		out.Language = "hi-IN"
	}
	if strings.TrimSpace(out.Location) == "" {
		out.Location = LocationUnknown
	}
	if strings.TrimSpace(out.Crop) == "" {
		out.Crop = "wheat"
	}
	if out.LandSizeAcres < 0 {
		out.LandSizeAcres = 0
	}
	return out
}

func NewSession(id string, defaults Defaults, now time.Time) *Session {
	d := defaults.normalized()
	ts := now.UTC()
	return &Session{
		ID:                  strings.TrimSpace(id),
		Language:            d.Language,
		Location:            d.Location,
		CurrentCrop:         d.Crop,
		LandSizeAcres:       d.LandSizeAcres,
		LastInteractionTime: ts,
		CreatedAt:           ts,
	}
}

// Touch advances LastInteractionTime. The value never moves backwards, and two
// touches within one clock tick still produce distinct, increasing values.
func (s *Session) Touch(now time.Time) {
	ts := now.UTC()
	if !ts.After(s.LastInteractionTime) {
		ts = s.LastInteractionTime.Add(time.Nanosecond)
	}
	s.LastInteractionTime = ts
}

// HasLocation reports whether the farmer's region is known.
func (s *Session) HasLocation() bool {
	loc := strings.TrimSpace(s.Location)
	return loc != "" && !strings.EqualFold(loc, LocationUnknown)
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.SowingDate != nil {
		d := *s.SowingDate
		out.SowingDate = &d
	}
	return &out
}

func (s *Session) Validate() error {
	if s == nil {
		return ErrNilSession
	}
	if strings.TrimSpace(s.ID) == "" {
		return ErrInvalidSession
	}
	if strings.TrimSpace(s.Language) == "" {
		return fmt.Errorf("session %s: language is empty", s.ID)
	}
	if s.LandSizeAcres < 0 {
		return fmt.Errorf("session %s: land_size_acres must be >= 0", s.ID)
	}
	return nil
}

/* --------------------------------- Patch --------------------------------- */

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Language        *string
	Location        *string
	CurrentCrop     *string
	LandSizeAcres   *float64
	SowingDate      *time.Time
	ClearSowingDate bool
	LastQuery       *string
}

func (p Patch) Validate() error {
	if p.Language != nil && strings.TrimSpace(*p.Language) == "" {
		return fmt.Errorf("%w: language must not be empty", ErrInvalidPatch)
	}
	if p.CurrentCrop != nil && strings.TrimSpace(*p.CurrentCrop) == "" {
		return fmt.Errorf("%w: current_crop must not be empty", ErrInvalidPatch)
	}
	if p.LandSizeAcres != nil && *p.LandSizeAcres < 0 {
		return fmt.Errorf("%w: land_size_acres must be >= 0", ErrInvalidPatch)
	}
	if p.SowingDate != nil && p.ClearSowingDate {
		return fmt.Errorf("%w: sowing_date set and cleared together", ErrInvalidPatch)
	}
	return nil
}

func (p Patch) IsEmpty() bool {
	return p.Language == nil && p.Location == nil && p.CurrentCrop == nil &&
		p.LandSizeAcres == nil && p.SowingDate == nil && !p.ClearSowingDate && p.LastQuery == nil
}

// Apply merges the patch into s.
func (s *Session) Apply(p Patch) {
	if p.Language != nil {
		s.Language = strings.TrimSpace(*p.Language)
	}
	if p.Location != nil {
		loc := strings.TrimSpace(*p.Location)
		if loc == "" {
			loc = LocationUnknown
		}
		s.Location = loc
	}
	if p.CurrentCrop != nil {
		s.CurrentCrop = strings.TrimSpace(*p.CurrentCrop)
	}
	if p.LandSizeAcres != nil {
		s.LandSizeAcres = *p.LandSizeAcres
	}
	if p.SowingDate != nil {
		d := p.SowingDate.UTC()
		s.SowingDate = &d
	}
	if p.ClearSowingDate {
		s.SowingDate = nil
	}
	if p.LastQuery != nil {
		s.LastQuery = *p.LastQuery
	}
}

// Ptr is a small helper for building patches.
func Ptr[T any](v T) *T {
	return &v
}
