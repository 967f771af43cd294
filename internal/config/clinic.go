package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mediagenda/internal/availability"
)

// HoursConfig maps a weekday name to its working periods ("08:00-12:00").
type HoursConfig map[string][]string

// DoctorConfig represents a single doctor of the clinic.
type DoctorConfig struct {
	CRM                 string      `yaml:"crm"`
	Name                string      `yaml:"name"`
	Specialty           string      `yaml:"specialty"`
	Email               string      `yaml:"email"`
	Phone               string      `yaml:"phone"`
	SlotDurationMinutes int         `yaml:"slot_duration_minutes"`
	Active              *bool       `yaml:"active,omitempty"`
	Hours               HoursConfig `yaml:"hours,omitempty"`

	schedule availability.WeeklySchedule
}

// HolidayConfig represents a date on which the clinic is closed.
type HolidayConfig struct {
	Date string `yaml:"date"` // "2026-01-01"
	Name string `yaml:"name"`
}

// DefaultsConfig holds values applied to doctors that do not set their own.
type DefaultsConfig struct {
	SlotDurationMinutes int         `yaml:"slot_duration_minutes"`
	Hours               HoursConfig `yaml:"hours"`
}

// ClinicConfig is the root configuration for clinic.yaml.
type ClinicConfig struct {
	Doctors  []DoctorConfig  `yaml:"doctors"`
	Defaults DefaultsConfig  `yaml:"defaults"`
	Holidays []HolidayConfig `yaml:"holidays"`
}

// LoadClinicConfig loads and validates clinic configuration from a YAML file.
func LoadClinicConfig(path string) (*ClinicConfig, error) {
	if path == "" {
		path = "configs/clinic.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read clinic config: %w", err)
	}

	return ParseClinicConfig(data)
}

// ParseClinicConfig parses, validates and applies defaults to raw YAML.
func ParseClinicConfig(data []byte) (*ClinicConfig, error) {
	var cfg ClinicConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse clinic config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate clinic config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *ClinicConfig) Validate() error {
	if len(c.Doctors) == 0 {
		return fmt.Errorf("no doctors defined")
	}

	if c.Defaults.SlotDurationMinutes < 0 {
		return fmt.Errorf("defaults.slot_duration_minutes must be positive")
	}
	if _, err := c.Defaults.Hours.Schedule(); err != nil {
		return fmt.Errorf("defaults.hours: %w", err)
	}

	crms := make(map[string]bool)
	for i := range c.Doctors {
		doc := &c.Doctors[i]
		if strings.TrimSpace(doc.CRM) == "" {
			return fmt.Errorf("doctor[%d]: crm is required", i)
		}
		if crms[doc.CRM] {
			return fmt.Errorf("doctor[%d]: duplicate crm '%s'", i, doc.CRM)
		}
		crms[doc.CRM] = true

		if strings.TrimSpace(doc.Name) == "" {
			return fmt.Errorf("doctor[%d]: name is required", i)
		}
		if doc.SlotDurationMinutes < 0 {
			return fmt.Errorf("doctor[%d]: slot_duration_minutes must be positive", i)
		}
		if _, err := doc.Hours.Schedule(); err != nil {
			return fmt.Errorf("doctor[%d].hours: %w", i, err)
		}
	}

	for i, h := range c.Holidays {
		if h.Date == "" {
			return fmt.Errorf("holiday[%d]: date is required", i)
		}
		if _, err := time.Parse("2006-01-02", h.Date); err != nil {
			return fmt.Errorf("holiday[%d]: invalid date format '%s', expected YYYY-MM-DD", i, h.Date)
		}
	}

	return nil
}

// applyDefaults fills doctor fields left empty from the defaults section.
func (c *ClinicConfig) applyDefaults() {
	if c.Defaults.SlotDurationMinutes == 0 {
		c.Defaults.SlotDurationMinutes = 30
	}
	defaults, _ := c.Defaults.Hours.Schedule()

	for i := range c.Doctors {
		doc := &c.Doctors[i]
		if doc.SlotDurationMinutes == 0 {
			doc.SlotDurationMinutes = c.Defaults.SlotDurationMinutes
		}
		if len(doc.Hours) == 0 {
			doc.schedule = defaults
		} else {
			doc.schedule, _ = doc.Hours.Schedule()
		}
	}
}

// Schedule parses the hours into a validated weekly schedule.
func (h HoursConfig) Schedule() (availability.WeeklySchedule, error) {
	s := make(availability.WeeklySchedule, len(h))
	seen := make(map[time.Weekday]bool, len(h))
	for name, ranges := range h {
		day, err := availability.ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		if seen[day] {
			return nil, fmt.Errorf("duplicate weekday %q", availability.WeekdayName(day))
		}
		seen[day] = true
		for _, r := range ranges {
			p, err := ParsePeriod(r)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			s[day] = append(s[day], p)
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ParsePeriod parses "HH:MM-HH:MM".
func ParsePeriod(s string) (availability.WorkingPeriod, error) {
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return availability.WorkingPeriod{}, fmt.Errorf("invalid period '%s', expected HH:MM-HH:MM", s)
	}
	from, err := availability.ParseTimeOfDay(start)
	if err != nil {
		return availability.WorkingPeriod{}, err
	}
	to, err := availability.ParseTimeOfDay(end)
	if err != nil {
		return availability.WorkingPeriod{}, err
	}
	return availability.WorkingPeriod{Start: from, End: to}, nil
}

// IsActive reports whether the doctor takes appointments. Defaults to true.
func (d *DoctorConfig) IsActive() bool {
	return d.Active == nil || *d.Active
}

// Schedule returns the doctor's weekly hours after defaults were applied.
func (d *DoctorConfig) Schedule() availability.WeeklySchedule {
	return d.schedule
}

// GetDoctorByCRM returns doctor config by CRM.
func (c *ClinicConfig) GetDoctorByCRM(crm string) *DoctorConfig {
	for i := range c.Doctors {
		if c.Doctors[i].CRM == crm {
			return &c.Doctors[i]
		}
	}
	return nil
}

// IsHoliday checks if a date is a holiday.
func (c *ClinicConfig) IsHoliday(date time.Time) (bool, string) {
	dateStr := date.Format("2006-01-02")
	for _, h := range c.Holidays {
		if h.Date == dateStr {
			return true, h.Name
		}
	}
	return false, ""
}

// String returns a summary of the configuration.
func (c *ClinicConfig) String() string {
	active := 0
	for i := range c.Doctors {
		if c.Doctors[i].IsActive() {
			active++
		}
	}
	return fmt.Sprintf("ClinicConfig: %d doctors (%d active), %d holidays",
		len(c.Doctors), active, len(c.Holidays))
}
