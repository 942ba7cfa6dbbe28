package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/clock"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPAdapter reads availability from a practice-management system's REST API:
//
//	GET {base}/v1/providers/{externalRef}/availability?date=YYYY-MM-DD&duration=N
//
// answered with {"slots":[{"start":"..."}]} where start is RFC3339 or HH:MM in clinic time.
type HTTPAdapter struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPAdapter(name, baseURL, apiKey string, timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPAdapter{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (a *HTTPAdapter) Name() string { return a.name }

type externalSlotsResponse struct {
	Slots []struct {
		Start string `json:"start"`
	} `json:"slots"`
}

func (a *HTTPAdapter) AvailableSlots(ctx context.Context, req SlotRequest) ([]TimeSlot, error) {
	ref, err := externalRef(a.name, req)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("date", clock.FormatDate(req.Date))
	q.Set("duration", strconv.Itoa(req.DurationMinutes))
	endpoint := fmt.Sprintf("%s/v1/providers/%s/availability?%s", a.baseURL, url.PathEscape(ref), q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.External(a.name, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, apperr.External(a.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, apperr.External(a.name, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var body externalSlotsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, apperr.External(a.name, fmt.Errorf("decode response: %w", err))
	}

	starts := make([]string, 0, len(body.Slots))
	for _, s := range body.Slots {
		starts = append(starts, s.Start)
	}
	return externalSlots(a.name, starts, req)
}

// externalSlots converts start strings from an external system into normalized slots.
// RFC3339 instants are moved into the clinic's zone and kept only when they fall on the
// requested date. Any unparseable start fails the whole response.
func externalSlots(system string, starts []string, req SlotRequest) ([]TimeSlot, error) {
	loc := req.Clinic.Location()
	minutes := make([]int, 0, len(starts))
	for _, raw := range starts {
		raw = strings.TrimSpace(raw)
		if m, err := clock.Parse(raw); err == nil {
			minutes = append(minutes, m)
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, apperr.External(system, fmt.Errorf("invalid slot start %q", raw))
		}
		t = t.In(loc)
		if !clock.DateOf(t).Equal(req.Date) {
			continue
		}
		minutes = append(minutes, clock.MinuteOfDay(t))
	}
	return normalize(minutes, req.cutoff()), nil
}

func externalRef(system string, req SlotRequest) (string, error) {
	ref := strings.TrimSpace(req.Doctor.ExternalRef)
	if ref == "" {
		return "", apperr.Configuration("doctor %s has no external reference for %s", req.Doctor.ID, system)
	}
	return ref, nil
}
