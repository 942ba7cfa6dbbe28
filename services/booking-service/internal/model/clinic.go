package model

import "time"

// ManagementLocal is the management-system identifier for clinics whose availability is computed in-house.
const ManagementLocal = "local"

type Clinic struct {
	ID               string
	Slug             string
	Name             string
	ManagementSystem string
	Timezone         string
	WorkingHours     []WorkingHours
}

// Location returns the clinic's IANA zone, falling back to UTC when it is unset or unknown.
func (c Clinic) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WorkingHours is the clinic's opening window for one weekday (0=Sunday).
type WorkingHours struct {
	Day   int    `mapstructure:"day"`
	Open  string `mapstructure:"open"`
	Close string `mapstructure:"close"`
}

type Doctor struct {
	ID          string
	ClinicID    string
	Name        string
	Active      bool
	ExternalRef string
	Schedule    []ScheduleEntry
}

// ScheduleEntry is one weekly availability window of a doctor (Day 0=Sunday).
type ScheduleEntry struct {
	Day       int    `mapstructure:"day"`
	StartTime string `mapstructure:"start_time"`
	EndTime   string `mapstructure:"end_time"`
}

type Service struct {
	ID              string
	ClinicID        string
	Name            map[string]string
	DurationMinutes int
	Price           *float64
}
