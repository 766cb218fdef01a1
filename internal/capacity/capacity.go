// Package capacity supplies per-stage throughput profiles, falling back to
// documented defaults when a stage has none. Capacity data is best-effort:
// a missing profile degrades to defaults with a warning, never an error.
package capacity

import (
	"log/slog"

	"pressline/internal/config"
	"pressline/internal/domain"
)

// Documented defaults applied when a stage has no explicit profile.
const (
	DefaultDailyMinutes    = 510
	DefaultStartHour       = 8
	DefaultStartMinute     = 0
	DefaultEndHour         = 17
	DefaultEndMinute       = 30
	DefaultMaxParallelJobs = 1
	DefaultSetupMinutes    = 10
)

type Model struct {
	profiles map[string]domain.CapacityProfile
	defaults config.CapacityDefaults
	logger   *slog.Logger
}

// New builds a model from config-declared profiles. Stored profiles can be
// layered on top via Put.
func New(cfg *config.Config, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Model{
		profiles: map[string]domain.CapacityProfile{},
		defaults: cfg.Capacity.Defaults,
		logger:   logger,
	}
	for stageID, p := range cfg.Capacity.Profiles {
		m.profiles[stageID] = fromConfig(stageID, p, cfg.Capacity.Defaults)
	}
	return m
}

// Put registers or replaces a stage profile.
func (m *Model) Put(p domain.CapacityProfile) {
	m.profiles[p.StageID] = normalize(p)
}

// CapacityFor returns the profile for a stage, defaulted when missing.
func (m *Model) CapacityFor(stageID string) domain.CapacityProfile {
	if p, ok := m.profiles[stageID]; ok {
		return p
	}
	m.logger.Warn("no capacity profile for stage, using defaults", "stage", stageID)
	return m.defaultProfile(stageID)
}

// CapacitiesFor resolves profiles for a set of stages.
func (m *Model) CapacitiesFor(stageIDs []string) map[string]domain.CapacityProfile {
	out := make(map[string]domain.CapacityProfile, len(stageIDs))
	for _, id := range stageIDs {
		out[id] = m.CapacityFor(id)
	}
	return out
}

// DefaultProfile is the documented fallback for a stage with no configured
// or stored capacity profile.
func DefaultProfile(stageID string) domain.CapacityProfile {
	return domain.CapacityProfile{
		StageID:         stageID,
		DailyMinutes:    DefaultDailyMinutes,
		StartHour:       DefaultStartHour,
		StartMinute:     DefaultStartMinute,
		EndHour:         DefaultEndHour,
		EndMinute:       DefaultEndMinute,
		MaxParallelJobs: DefaultMaxParallelJobs,
		SetupMinutes:    DefaultSetupMinutes,
	}
}

func (m *Model) defaultProfile(stageID string) domain.CapacityProfile {
	p := DefaultProfile(stageID)
	if m.defaults.DailyMinutes > 0 {
		p.DailyMinutes = m.defaults.DailyMinutes
	}
	if m.defaults.MaxParallelJobs > 0 {
		p.MaxParallelJobs = m.defaults.MaxParallelJobs
	}
	if m.defaults.SetupMinutes >= 0 {
		p.SetupMinutes = m.defaults.SetupMinutes
	}
	return p
}

func fromConfig(stageID string, p config.CapacityProfile, defs config.CapacityDefaults) domain.CapacityProfile {
	out := domain.CapacityProfile{
		StageID:         stageID,
		DailyMinutes:    p.DailyMinutes,
		StartHour:       DefaultStartHour,
		StartMinute:     DefaultStartMinute,
		EndHour:         DefaultEndHour,
		EndMinute:       DefaultEndMinute,
		MaxParallelJobs: p.MaxParallelJobs,
		SetupMinutes:    p.SetupMinutes,
	}
	if p.Start != "" {
		out.StartHour, out.StartMinute, _ = config.ParseClock(p.Start)
	}
	if p.End != "" {
		out.EndHour, out.EndMinute, _ = config.ParseClock(p.End)
	}
	if out.DailyMinutes == 0 {
		out.DailyMinutes = defs.DailyMinutes
	}
	if out.MaxParallelJobs == 0 {
		out.MaxParallelJobs = defs.MaxParallelJobs
	}
	if out.SetupMinutes == 0 && defs.SetupMinutes > 0 {
		out.SetupMinutes = defs.SetupMinutes
	}
	return normalize(out)
}

func normalize(p domain.CapacityProfile) domain.CapacityProfile {
	if p.DailyMinutes <= 0 {
		p.DailyMinutes = DefaultDailyMinutes
	}
	if p.MaxParallelJobs <= 0 {
		p.MaxParallelJobs = DefaultMaxParallelJobs
	}
	if p.SetupMinutes < 0 {
		p.SetupMinutes = DefaultSetupMinutes
	}
	if p.EndHour*60+p.EndMinute <= p.StartHour*60+p.StartMinute {
		p.StartHour, p.StartMinute = DefaultStartHour, DefaultStartMinute
		p.EndHour, p.EndMinute = DefaultEndHour, DefaultEndMinute
	}
	return p
}
