package domain

// Settings is the singleton guard configuration. A missing settings row or
// Enabled=false disables all checks; the guard never fails a transaction
// because its own configuration is absent.
type Settings struct {
	Enabled            bool     `json:"enabled"`
	DefaultVariancePct float64  `json:"defaultVariancePct"`
	SevereMultiplier   float64  `json:"severeMultiplier"`
	BlockIfNoRule      bool     `json:"blockIfNoRule"`
	BlockSevere        bool     `json:"blockSevere"`
	BypassRoles        []string `json:"bypassRoles,omitempty"`

	// When false, purchase lines from internal suppliers are skipped.
	IncludeInternalSuppliers bool `json:"includeInternalSuppliers"`
}

// DefaultSettings returns the settings used when none have been saved yet.
// The module starts disabled.
func DefaultSettings() *Settings {
	return &Settings{
		Enabled:            false,
		DefaultVariancePct: 30,
		SevereMultiplier:   2,
	}
}

// CanBypass reports whether any of the caller's roles is a bypass role.
// An empty bypass list grants no one a bypass.
func (s *Settings) CanBypass(roles []string) bool {
	if s == nil || len(s.BypassRoles) == 0 {
		return false
	}
	allowed := make(map[string]struct{}, len(s.BypassRoles))
	for _, r := range s.BypassRoles {
		if r != "" {
			allowed[r] = struct{}{}
		}
	}
	for _, r := range roles {
		if _, ok := allowed[r]; ok {
			return true
		}
	}
	return false
}
