package scheduling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/model"
)

func externalRequest(t *testing.T, tz, date string) SlotRequest {
	t.Helper()
	return SlotRequest{
		Clinic:          model.Clinic{ID: "c1", ManagementSystem: "acme", Timezone: tz},
		Doctor:          model.Doctor{ID: "d1", ClinicID: "c1", Active: true, ExternalRef: "prov 77"},
		Date:            mustDate(t, date),
		DurationMinutes: 30,
		Now:             testNow,
	}
}

func TestHTTPAdapter_NormalizesSlots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/v1/providers/prov%2077/availability" {
			t.Errorf("unexpected path %s", r.URL.EscapedPath())
		}
		if r.URL.Query().Get("date") != "2026-10-26" || r.URL.Query().Get("duration") != "30" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		w.Header().Set("Content-Type", "application/json")
		// Asia/Dubai is UTC+4 without DST.
		_, _ = w.Write([]byte(`{"slots":[
			{"start":"2026-10-26T07:00:00Z"},
			{"start":"09:30"},
			{"start":"2026-10-26T05:00:00Z"},
			{"start":"11:00"},
			{"start":"2026-10-26T22:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter("acme", srv.URL+"/", "secret", time.Second)
	slots, err := a.AvailableSlots(context.Background(), externalRequest(t, "Asia/Dubai", "2026-10-26"))
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	want := []string{"09:00", "09:30", "11:00"}
	if !reflect.DeepEqual(starts(slots), want) {
		t.Fatalf("slots = %v, want %v", starts(slots), want)
	}
}

func TestHTTPAdapter_TodayDropsElapsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"slots":[{"start":"09:00"},{"start":"10:05"},{"start":"10:30"}]}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter("acme", srv.URL, "", time.Second)
	slots, err := a.AvailableSlots(context.Background(), externalRequest(t, "UTC", "2026-10-19"))
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	if !reflect.DeepEqual(starts(slots), []string{"10:30"}) {
		t.Fatalf("slots = %v", starts(slots))
	}
}

func TestHTTPAdapter_FailuresAreExternalErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
		},
		"bad json": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"slots":`))
		},
		"bad start": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"slots":[{"start":"soon"}]}`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			slots, err := NewHTTPAdapter("acme", srv.URL, "", time.Second).AvailableSlots(context.Background(), externalRequest(t, "UTC", "2026-10-26"))
			if slots != nil {
				t.Fatalf("expected no slots on failure, got %v", starts(slots))
			}
			if !apperr.Is(err, apperr.TypeExternal) {
				t.Fatalf("expected external error, got %v", err)
			}
		})
	}

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	_, err := NewHTTPAdapter("acme", srv.URL, "", time.Second).AvailableSlots(context.Background(), externalRequest(t, "UTC", "2026-10-26"))
	if !apperr.Is(err, apperr.TypeExternal) {
		t.Fatalf("expected external error for unreachable server, got %v", err)
	}
}

func TestHTTPAdapter_RequiresExternalRef(t *testing.T) {
	req := externalRequest(t, "UTC", "2026-10-26")
	req.Doctor.ExternalRef = ""
	_, err := NewHTTPAdapter("acme", "http://127.0.0.1:1", "", time.Second).AvailableSlots(context.Background(), req)
	if !apperr.Is(err, apperr.TypeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestService_ExternalFailureIsNotEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newMemStore()
	clinic := store.clinics["c1"]
	clinic.ManagementSystem = "ACME"
	store.clinics["c1"] = clinic
	reg := NewRegistry(NewLocalAdapter(store, 30))
	reg.Register("acme", NewHTTPAdapter("acme", srv.URL, "", time.Second))

	svc := newTestService(t, store, reg)
	slots, err := svc.Slots(context.Background(), Query{ClinicID: "c1", DoctorID: "d1", Date: nextMonday, DurationMinutes: 30})
	if slots != nil || !apperr.Is(err, apperr.TypeExternal) {
		t.Fatalf("expected external error and no slots, got %v, %v", slots, err)
	}
}
