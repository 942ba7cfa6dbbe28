package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type clinicDoc struct {
	ID               string            `bson:"_id"`
	Slug             string            `bson:"slug,omitempty"`
	Name             string            `bson:"name"`
	ManagementSystem string            `bson:"management_system"`
	Timezone         string            `bson:"timezone"`
	WorkingHours     []workingHoursDoc `bson:"working_hours"`
}

type workingHoursDoc struct {
	Day   int    `bson:"day"`
	Open  string `bson:"open"`
	Close string `bson:"close"`
}

type doctorDoc struct {
	ID          string        `bson:"_id"`
	ClinicID    string        `bson:"clinic_id"`
	Name        string        `bson:"name"`
	Active      bool          `bson:"active"`
	ExternalRef string        `bson:"external_ref,omitempty"`
	Schedule    []scheduleDoc `bson:"schedule"`
}

type scheduleDoc struct {
	Day       int    `bson:"day"`
	StartTime string `bson:"start_time"`
	EndTime   string `bson:"end_time"`
}

type serviceDoc struct {
	ID              string            `bson:"_id"`
	ClinicID        string            `bson:"clinic_id"`
	ServiceID       string            `bson:"service_id"`
	Name            map[string]string `bson:"name"`
	DurationMinutes int               `bson:"duration_minutes"`
	Price           *float64          `bson:"price,omitempty"`
}

func (s *Store) GetClinic(ctx context.Context, clinicID string) (model.Clinic, error) {
	var doc clinicDoc
	err := s.clinics.FindOne(ctx, bson.M{"_id": clinicID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Clinic{}, apperr.NotFound("clinic %s not found", clinicID)
	}
	if err != nil {
		return model.Clinic{}, fmt.Errorf("get clinic: %w", err)
	}
	c := model.Clinic{
		ID:               doc.ID,
		Slug:             doc.Slug,
		Name:             doc.Name,
		ManagementSystem: doc.ManagementSystem,
		Timezone:         doc.Timezone,
	}
	for _, wh := range doc.WorkingHours {
		c.WorkingHours = append(c.WorkingHours, model.WorkingHours{Day: wh.Day, Open: wh.Open, Close: wh.Close})
	}
	return c, nil
}

func (s *Store) GetDoctor(ctx context.Context, clinicID, doctorID string) (model.Doctor, error) {
	var doc doctorDoc
	err := s.doctors.FindOne(ctx, bson.M{"_id": doctorID, "clinic_id": clinicID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Doctor{}, apperr.NotFound("doctor %s not found in clinic %s", doctorID, clinicID)
	}
	if err != nil {
		return model.Doctor{}, fmt.Errorf("get doctor: %w", err)
	}
	d := model.Doctor{
		ID:          doc.ID,
		ClinicID:    doc.ClinicID,
		Name:        doc.Name,
		Active:      doc.Active,
		ExternalRef: doc.ExternalRef,
	}
	for _, e := range doc.Schedule {
		d.Schedule = append(d.Schedule, model.ScheduleEntry{Day: e.Day, StartTime: e.StartTime, EndTime: e.EndTime})
	}
	return d, nil
}

func (s *Store) GetService(ctx context.Context, clinicID, serviceID string) (model.Service, error) {
	var doc serviceDoc
	err := s.services.FindOne(ctx, bson.M{"clinic_id": clinicID, "service_id": serviceID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Service{}, apperr.NotFound("service %s not found in clinic %s", serviceID, clinicID)
	}
	if err != nil {
		return model.Service{}, fmt.Errorf("get service: %w", err)
	}
	return model.Service{
		ID:              doc.ServiceID,
		ClinicID:        doc.ClinicID,
		Name:            doc.Name,
		DurationMinutes: doc.DurationMinutes,
		Price:           doc.Price,
	}, nil
}

func (s *Store) UpsertClinic(ctx context.Context, c model.Clinic) error {
	doc := clinicDoc{
		ID:               c.ID,
		Slug:             c.Slug,
		Name:             c.Name,
		ManagementSystem: c.ManagementSystem,
		Timezone:         c.Timezone,
		WorkingHours:     []workingHoursDoc{},
	}
	if doc.ManagementSystem == "" {
		doc.ManagementSystem = model.ManagementLocal
	}
	if doc.Timezone == "" {
		doc.Timezone = "UTC"
	}
	for _, wh := range c.WorkingHours {
		doc.WorkingHours = append(doc.WorkingHours, workingHoursDoc{Day: wh.Day, Open: wh.Open, Close: wh.Close})
	}
	return s.replace(ctx, s.clinics, doc.ID, doc)
}

func (s *Store) UpsertDoctor(ctx context.Context, d model.Doctor) error {
	doc := doctorDoc{
		ID:          d.ID,
		ClinicID:    d.ClinicID,
		Name:        d.Name,
		Active:      d.Active,
		ExternalRef: d.ExternalRef,
		Schedule:    []scheduleDoc{},
	}
	for _, e := range d.Schedule {
		doc.Schedule = append(doc.Schedule, scheduleDoc{Day: e.Day, StartTime: e.StartTime, EndTime: e.EndTime})
	}
	return s.replace(ctx, s.doctors, doc.ID, doc)
}

func (s *Store) UpsertService(ctx context.Context, svc model.Service) error {
	doc := serviceDoc{
		ID:              svc.ClinicID + "|" + svc.ID,
		ClinicID:        svc.ClinicID,
		ServiceID:       svc.ID,
		Name:            svc.Name,
		DurationMinutes: svc.DurationMinutes,
		Price:           svc.Price,
	}
	return s.replace(ctx, s.services, doc.ID, doc)
}

func (s *Store) replace(ctx context.Context, coll *mongo.Collection, id string, doc any) error {
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", coll.Name(), id, err)
	}
	return nil
}
