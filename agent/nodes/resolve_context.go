package dispatchnode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	statex "github.com/tanpawarit/krishi-saathi/agent/state"
)

// ContextDefaults are used when neither the utterance nor the session names a
// crop or location.
type ContextDefaults struct {
	Crop     string
	Location string
}

// ResolveContext picks the working crop and location: entity first, then the
// session, then the configured default.
func ResolveContext(in *GraphState, defaults ContextDefaults) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	in.Crop = firstNonEmpty(
		in.Classification.Entity(contractx.EntityCrop),
		sessionCrop(in.Session),
		defaults.Crop,
	)
	in.Location = firstNonEmpty(
		in.Classification.Entity(contractx.EntityLocation),
		sessionLocation(in.Session),
		defaults.Location,
	)
	return in, nil
}

func sessionCrop(s *statex.Session) string {
	if s == nil {
		return ""
	}
	return s.CurrentCrop
}

func sessionLocation(s *statex.Session) string {
	if s == nil || !s.HasLocation() {
		return ""
	}
	return s.Location
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
