package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models pressline.yml.
type Config struct {
	Plant struct {
		ID       string `yaml:"id"`
		Timezone string `yaml:"timezone"`
	} `yaml:"plant"`
	Calendar struct {
		// Weekdays maps lowercase weekday names to shift windows. A missing
		// day is a non-working day.
		Weekdays map[string]ShiftWindow `yaml:"weekdays"`
		Holidays []string               `yaml:"holidays"`
	} `yaml:"calendar"`
	Capacity struct {
		Defaults CapacityDefaults           `yaml:"defaults"`
		Profiles map[string]CapacityProfile `yaml:"profiles"`
	} `yaml:"capacity"`
	Stages     map[string]StageDef    `yaml:"stages"`
	Categories map[string]CategoryDef `yaml:"categories"`
}

type ShiftWindow struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type CapacityDefaults struct {
	DailyMinutes    int `yaml:"daily_minutes"`
	MaxParallelJobs int `yaml:"max_parallel_jobs"`
	SetupMinutes    int `yaml:"setup_minutes"`
}

type CapacityProfile struct {
	DailyMinutes    int    `yaml:"daily_minutes"`
	Start           string `yaml:"start"`
	End             string `yaml:"end"`
	MaxParallelJobs int    `yaml:"max_parallel_jobs"`
	SetupMinutes    int    `yaml:"setup_minutes"`
}

type StageDef struct {
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
}

// CategoryDef is a workflow template: assigning the category to a job
// instantiates one workflow stage per entry, in order.
type CategoryDef struct {
	Stages []CategoryStage `yaml:"stages"`
}

type CategoryStage struct {
	Stage   string `yaml:"stage"`
	Minutes int    `yaml:"minutes"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run pl init or create it", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pressline.yml")
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

var weekdayNames = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Plant.ID == "" {
		return fmt.Errorf("config.plant.id is required")
	}
	if c.Plant.Timezone == "" {
		return fmt.Errorf("config.plant.timezone is required")
	}
	if _, err := time.LoadLocation(c.Plant.Timezone); err != nil {
		return fmt.Errorf("config.plant.timezone: %w", err)
	}
	if len(c.Calendar.Weekdays) == 0 {
		return fmt.Errorf("config.calendar.weekdays must define at least one working day")
	}
	for day, w := range c.Calendar.Weekdays {
		if !weekdayNames[day] {
			return fmt.Errorf("config.calendar.weekdays has unknown day %q", day)
		}
		if _, _, err := ParseClock(w.Start); err != nil {
			return fmt.Errorf("weekday %s start: %w", day, err)
		}
		if _, _, err := ParseClock(w.End); err != nil {
			return fmt.Errorf("weekday %s end: %w", day, err)
		}
	}
	for _, h := range c.Calendar.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("holiday %q: expected YYYY-MM-DD", h)
		}
	}
	for id, p := range c.Capacity.Profiles {
		if id == "" {
			return fmt.Errorf("config.capacity.profiles has empty stage id")
		}
		if p.DailyMinutes < 0 || p.MaxParallelJobs < 0 || p.SetupMinutes < 0 {
			return fmt.Errorf("capacity profile %s has negative values", id)
		}
		if p.Start != "" {
			if _, _, err := ParseClock(p.Start); err != nil {
				return fmt.Errorf("capacity profile %s start: %w", id, err)
			}
		}
		if p.End != "" {
			if _, _, err := ParseClock(p.End); err != nil {
				return fmt.Errorf("capacity profile %s end: %w", id, err)
			}
		}
	}
	for name, cat := range c.Categories {
		if len(cat.Stages) == 0 {
			return fmt.Errorf("category %s has no stages", name)
		}
		for i, s := range cat.Stages {
			if s.Stage == "" {
				return fmt.Errorf("category %s stage %d has empty stage id", name, i+1)
			}
			if s.Minutes <= 0 {
				return fmt.Errorf("category %s stage %s needs minutes > 0", name, s.Stage)
			}
			if len(c.Stages) > 0 {
				if _, ok := c.Stages[s.Stage]; !ok {
					return fmt.Errorf("category %s references unknown stage %s", name, s.Stage)
				}
			}
		}
	}
	return nil
}

// Location resolves the operating timezone. Validate guarantees it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Plant.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseClock parses "HH:MM" into hour and minute.
func ParseClock(s string) (int, int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q: expected HH:MM", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid clock %q", s)
	}
	return h, m, nil
}

// Default returns the default Config struct for a plant.
func Default(plantID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, plantID)), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(plantID string) string {
	return fmt.Sprintf(defaultTemplate, plantID)
}

const defaultTemplate = `plant:
  id: %s
  timezone: UTC

calendar:
  weekdays:
    monday: { start: "08:00", end: "17:30" }
    tuesday: { start: "08:00", end: "17:30" }
    wednesday: { start: "08:00", end: "17:30" }
    thursday: { start: "08:00", end: "17:30" }
    friday: { start: "08:00", end: "17:30" }
  holidays: []

capacity:
  defaults:
    daily_minutes: 510
    max_parallel_jobs: 1
    setup_minutes: 10
  profiles: {}

stages:
  prepress:
    name: Prepress
    color: "#4e79a7"
  plates:
    name: Platemaking
    color: "#f28e2b"
  press:
    name: Press
    color: "#e15759"
  finishing:
    name: Finishing
    color: "#76b7b2"
  shipping:
    name: Shipping
    color: "#59a14f"

categories:
  offset-standard:
    stages:
      - { stage: prepress, minutes: 120 }
      - { stage: plates, minutes: 60 }
      - { stage: press, minutes: 300 }
      - { stage: finishing, minutes: 180 }
      - { stage: shipping, minutes: 30 }
  digital-quick:
    stages:
      - { stage: prepress, minutes: 45 }
      - { stage: press, minutes: 90 }
      - { stage: shipping, minutes: 15 }
`
