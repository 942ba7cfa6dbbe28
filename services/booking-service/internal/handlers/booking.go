package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/scheduling"
)

// ClinicHeader carries the clinic of an authenticated admin request, set by the gateway.
const ClinicHeader = "X-Clinic-Id"

type SlotQuerier interface {
	Slots(ctx context.Context, q scheduling.Query) ([]scheduling.TimeSlot, error)
}

type Bookings interface {
	Reserve(ctx context.Context, req booking.ReserveRequest) (booking.Reservation, error)
	UpdateStatus(ctx context.Context, clinicID, appointmentID, status, reason string) (model.Appointment, error)
	List(ctx context.Context, clinicID string, filter model.AppointmentFilter) ([]model.Appointment, error)
}

type ServiceCatalog interface {
	GetService(ctx context.Context, clinicID, serviceID string) (model.Service, error)
}

type BookingHandler struct {
	slots    SlotQuerier
	bookings Bookings
	services ServiceCatalog
	logger   *slog.Logger
}

func NewBookingHandler(slots SlotQuerier, bookings Bookings, services ServiceCatalog, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{slots: slots, bookings: bookings, services: services, logger: logger}
}

// Register mounts the public and admin routes on mux.
func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/public/book", h.Create)
	mux.HandleFunc("/api/v1/appointments", h.List)
	mux.HandleFunc("/api/v1/appointments/status", h.UpdateStatus)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
}

type slotItem struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type createBookingRequest struct {
	ClinicID        string `json:"clinic_id"`
	DoctorID        string `json:"doctor_id"`
	ServiceID       string `json:"service_id"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	PatientName     string `json:"patient_name"`
	PatientEmail    string `json:"patient_email"`
	PatientPhone    string `json:"patient_phone"`
}

type createBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

type updateStatusRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
}

type cancelBookingRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type appointmentItem struct {
	AppointmentID   string `json:"appointment_id"`
	DoctorID        string `json:"doctor_id"`
	ServiceID       string `json:"service_id,omitempty"`
	PatientName     string `json:"patient_name"`
	PatientEmail    string `json:"patient_email,omitempty"`
	PatientPhone    string `json:"patient_phone,omitempty"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	CancelReason    string `json:"cancel_reason,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Slots lists the bookable starts for a doctor on a date. The duration comes from
// duration_minutes or, when absent, from service_id.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	query := scheduling.Query{
		ClinicID: strings.TrimSpace(q.Get("clinic_id")),
		DoctorID: strings.TrimSpace(q.Get("doctor_id")),
		Date:     strings.TrimSpace(q.Get("date")),
	}
	if raw := strings.TrimSpace(q.Get("duration_minutes")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, apperr.Validation("duration_minutes must be an integer"))
			return
		}
		query.DurationMinutes = n
	} else if serviceID := strings.TrimSpace(q.Get("service_id")); serviceID != "" && query.ClinicID != "" {
		svc, err := h.services.GetService(r.Context(), query.ClinicID, serviceID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		query.DurationMinutes = svc.DurationMinutes
	}

	slots, err := h.slots.Slots(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{Start: s.Start, End: clock.Format(s.Minute() + query.DurationMinutes)})
	}
	writeJSON(w, http.StatusOK, items)
}

// Create reserves a slot. Repeating a request with the same Idempotency-Key returns the original
// appointment with the Idempotent-Replayed header set.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.Validation("invalid json body"))
		return
	}

	res, err := h.bookings.Reserve(r.Context(), booking.ReserveRequest{
		ClinicID:        req.ClinicID,
		DoctorID:        req.DoctorID,
		ServiceID:       req.ServiceID,
		Date:            req.Date,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		PatientName:     req.PatientName,
		PatientEmail:    req.PatientEmail,
		PatientPhone:    req.PatientPhone,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	writeJSON(w, http.StatusCreated, createBookingResponse{
		AppointmentID: res.Appointment.ID,
		Status:        res.Appointment.Status,
	})
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	filter := model.AppointmentFilter{DoctorID: strings.TrimSpace(q.Get("doctor_id"))}
	if raw := strings.TrimSpace(q.Get("date")); raw != "" {
		date, err := clock.ParseDate(raw)
		if err != nil {
			h.writeError(w, r, apperr.Validation("%v", err))
			return
		}
		filter.Date = &date
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, r, apperr.Validation("limit must be a positive integer"))
			return
		}
		filter.Limit = n
	}

	appts, err := h.bookings.List(r.Context(), r.Header.Get(ClinicHeader), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toAppointmentItem(appt))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.Validation("invalid json body"))
		return
	}
	h.transition(w, r, req.AppointmentID, req.Status, req.Reason)
}

// Cancel is shorthand for a status update to cancelled.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.Validation("invalid json body"))
		return
	}
	h.transition(w, r, req.AppointmentID, model.StatusCancelled, req.Reason)
}

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, appointmentID, status, reason string) {
	appt, err := h.bookings.UpdateStatus(r.Context(), r.Header.Get(ClinicHeader), appointmentID, status, reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentItem(appt))
}

func toAppointmentItem(appt model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID:   appt.ID,
		DoctorID:        appt.DoctorID,
		ServiceID:       appt.ServiceID,
		PatientName:     appt.PatientName,
		PatientEmail:    appt.PatientEmail,
		PatientPhone:    appt.PatientPhone,
		Date:            clock.FormatDate(appt.Date),
		StartTime:       clock.Format(appt.StartMinute),
		EndTime:         clock.Format(appt.EndMinute()),
		DurationMinutes: appt.DurationMinutes,
		Status:          appt.Status,
		CancelReason:    appt.CancelReason,
		CreatedAt:       appt.CreatedAt.UTC().Format(time.RFC3339),
	}
	if appt.CancelledAt != nil {
		item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}

func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		h.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: apperr.PublicMessage(err), Code: string(apperr.TypeOf(err))})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
