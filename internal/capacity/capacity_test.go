package capacity_test

import (
	"testing"

	"pressline/internal/capacity"
	"pressline/internal/config"
	"pressline/internal/domain"
)

func TestCapacityForMissingStageUsesDefaults(t *testing.T) {
	m := capacity.New(config.Default("plant-1"), nil)
	p := m.CapacityFor("press")
	if p.DailyMinutes != 510 {
		t.Fatalf("daily minutes: got %d, want 510", p.DailyMinutes)
	}
	if p.MaxParallelJobs != 1 {
		t.Fatalf("lanes: got %d, want 1", p.MaxParallelJobs)
	}
	if p.SetupMinutes != 10 {
		t.Fatalf("setup minutes: got %d, want 10", p.SetupMinutes)
	}
	if p.StartHour != 8 || p.EndHour != 17 || p.EndMinute != 30 {
		t.Fatalf("shift window: got %02d:%02d-%02d:%02d", p.StartHour, p.StartMinute, p.EndHour, p.EndMinute)
	}
}

func TestConfigProfileOverridesDefaults(t *testing.T) {
	cfg := config.Default("plant-1")
	cfg.Capacity.Profiles = map[string]config.CapacityProfile{
		"press": {DailyMinutes: 960, Start: "06:00", End: "22:00", MaxParallelJobs: 2, SetupMinutes: 15},
	}
	m := capacity.New(cfg, nil)
	p := m.CapacityFor("press")
	if p.DailyMinutes != 960 || p.MaxParallelJobs != 2 || p.SetupMinutes != 15 {
		t.Fatalf("unexpected profile %+v", p)
	}
	if p.StartHour != 6 || p.EndHour != 22 {
		t.Fatalf("shift window not taken from profile: %+v", p)
	}
}

func TestPutLayersStoredProfile(t *testing.T) {
	m := capacity.New(config.Default("plant-1"), nil)
	m.Put(domain.CapacityProfile{
		StageID:      "finishing",
		DailyMinutes: 240,
		StartHour:    9, EndHour: 13,
		MaxParallelJobs: 3,
	})
	p := m.CapacityFor("finishing")
	if p.DailyMinutes != 240 || p.MaxParallelJobs != 3 {
		t.Fatalf("stored profile not applied: %+v", p)
	}
}

func TestPutNormalizesDegenerateWindow(t *testing.T) {
	m := capacity.New(config.Default("plant-1"), nil)
	m.Put(domain.CapacityProfile{StageID: "plates", DailyMinutes: -5})
	p := m.CapacityFor("plates")
	if p.DailyMinutes != 510 {
		t.Fatalf("negative daily minutes should fall back to default, got %d", p.DailyMinutes)
	}
	if p.EndHour*60+p.EndMinute <= p.StartHour*60+p.StartMinute {
		t.Fatalf("window not repaired: %+v", p)
	}
}

func TestCapacitiesFor(t *testing.T) {
	m := capacity.New(config.Default("plant-1"), nil)
	got := m.CapacitiesFor([]string{"press", "prepress"})
	if len(got) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(got))
	}
	if got["press"].StageID != "press" {
		t.Fatalf("profile keyed wrong: %+v", got["press"])
	}
}
