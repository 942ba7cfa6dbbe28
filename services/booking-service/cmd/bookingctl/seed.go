package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/dentbook/libs/config"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/schedule"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/scheduling"
)

type catalogWriter interface {
	UpsertClinic(ctx context.Context, c model.Clinic) error
	UpsertDoctor(ctx context.Context, d model.Doctor) error
	UpsertService(ctx context.Context, s model.Service) error
}

type seedClinic struct {
	ID               string               `mapstructure:"id"`
	Slug             string               `mapstructure:"slug"`
	Name             string               `mapstructure:"name"`
	ManagementSystem string               `mapstructure:"management_system"`
	Timezone         string               `mapstructure:"timezone"`
	WorkingHours     []model.WorkingHours `mapstructure:"working_hours"`
}

type seedDoctor struct {
	ID          string                `mapstructure:"id"`
	ClinicID    string                `mapstructure:"clinic_id"`
	Name        string                `mapstructure:"name"`
	Active      *bool                 `mapstructure:"active"`
	ExternalRef string                `mapstructure:"external_ref"`
	Schedule    []model.ScheduleEntry `mapstructure:"schedule"`
}

type seedService struct {
	ID              string            `mapstructure:"id"`
	ClinicID        string            `mapstructure:"clinic_id"`
	Name            map[string]string `mapstructure:"name"`
	DurationMinutes int               `mapstructure:"duration_minutes"`
	Price           *float64          `mapstructure:"price"`
}

type catalog struct {
	Clinics  []model.Clinic
	Doctors  []model.Doctor
	Services []model.Service
}

// readCatalog loads and validates a seed file. Doctors inherit active: true unless stated.
func readCatalog(file string) (*catalog, error) {
	cfg, err := config.Load(file)
	if err != nil {
		return nil, err
	}
	var (
		clinics  []seedClinic
		doctors  []seedDoctor
		services []seedService
	)
	if err := cfg.UnmarshalKey("clinics", &clinics); err != nil {
		return nil, err
	}
	if err := cfg.UnmarshalKey("doctors", &doctors); err != nil {
		return nil, err
	}
	if err := cfg.UnmarshalKey("services", &services); err != nil {
		return nil, err
	}

	out := &catalog{}
	var errs []error
	known := map[string]bool{}
	for _, c := range clinics {
		clinic := model.Clinic{
			ID:               strings.TrimSpace(c.ID),
			Slug:             c.Slug,
			Name:             c.Name,
			ManagementSystem: strings.ToLower(strings.TrimSpace(c.ManagementSystem)),
			Timezone:         c.Timezone,
			WorkingHours:     c.WorkingHours,
		}
		if clinic.ID == "" {
			errs = append(errs, errors.New("clinic without id"))
			continue
		}
		if err := schedule.ValidateWorkingHours(clinic.WorkingHours); err != nil {
			errs = append(errs, fmt.Errorf("clinic %s: %w", clinic.ID, err))
		}
		known[clinic.ID] = true
		out.Clinics = append(out.Clinics, clinic)
	}
	for _, d := range doctors {
		doctor := model.Doctor{
			ID:          strings.TrimSpace(d.ID),
			ClinicID:    strings.TrimSpace(d.ClinicID),
			Name:        d.Name,
			Active:      d.Active == nil || *d.Active,
			ExternalRef: strings.TrimSpace(d.ExternalRef),
			Schedule:    d.Schedule,
		}
		if doctor.ID == "" || doctor.ClinicID == "" {
			errs = append(errs, fmt.Errorf("doctor %q: id and clinic_id are required", doctor.ID))
			continue
		}
		if !known[doctor.ClinicID] {
			errs = append(errs, fmt.Errorf("doctor %s: clinic %s is not in the file", doctor.ID, doctor.ClinicID))
		}
		if err := schedule.ValidateWeekly(doctor.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("doctor %s: %w", doctor.ID, err))
		}
		out.Doctors = append(out.Doctors, doctor)
	}
	for _, s := range services {
		svc := model.Service{
			ID:              strings.TrimSpace(s.ID),
			ClinicID:        strings.TrimSpace(s.ClinicID),
			Name:            s.Name,
			DurationMinutes: s.DurationMinutes,
			Price:           s.Price,
		}
		if svc.ID == "" || !known[svc.ClinicID] {
			errs = append(errs, fmt.Errorf("service %q: id and a clinic from the file are required", svc.ID))
			continue
		}
		if svc.DurationMinutes <= 0 || svc.DurationMinutes > scheduling.MaxDurationMinutes {
			errs = append(errs, fmt.Errorf("service %s: duration_minutes must be between 1 and %d", svc.ID, scheduling.MaxDurationMinutes))
		}
		out.Services = append(out.Services, svc)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid seed file %s: %w", file, err)
	}
	return out, nil
}

func (c *catalog) apply(ctx context.Context, w catalogWriter) error {
	for _, clinic := range c.Clinics {
		if err := w.UpsertClinic(ctx, clinic); err != nil {
			return err
		}
	}
	for _, doctor := range c.Doctors {
		if err := w.UpsertDoctor(ctx, doctor); err != nil {
			return err
		}
	}
	for _, svc := range c.Services {
		if err := w.UpsertService(ctx, svc); err != nil {
			return err
		}
	}
	return nil
}
