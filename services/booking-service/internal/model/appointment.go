package model

import "time"

// Appointment statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusNoShow    = "no_show"
	StatusCancelled = "cancelled"
)

type Appointment struct {
	ID              string
	ClinicID        string
	DoctorID        string
	ServiceID       string
	PatientName     string
	PatientEmail    string
	PatientPhone    string
	Date            time.Time // calendar day at 00:00 UTC
	StartMinute     int
	DurationMinutes int
	Status          string
	CancelReason    string
	CancelledAt     *time.Time
	IdempotencyKey  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) EndMinute() int {
	return a.StartMinute + a.DurationMinutes
}

// Active reports whether the appointment still occupies its time range.
func (a Appointment) Active() bool {
	return a.Status != StatusCancelled
}

// KnownStatus reports whether s is one of the appointment statuses.
func KnownStatus(s string) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusNoShow, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an appointment may move from one status to another.
// Cancelled, completed and no-show are terminal.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled || to == StatusNoShow || to == StatusCompleted
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusNoShow || to == StatusCancelled
	}
	return false
}

// AppointmentFilter narrows an admin listing. Zero fields do not filter.
type AppointmentFilter struct {
	DoctorID string
	Date     *time.Time
	Limit    int
}
