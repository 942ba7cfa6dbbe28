package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Configuration("unknown management system %q", "acme"), http.StatusUnprocessableEntity},
		{NotFound("clinic not found"), http.StatusNotFound},
		{Validation("date required"), http.StatusBadRequest},
		{External("acme", errors.New("dial tcp: refused")), http.StatusBadGateway},
		{Conflict("slot taken"), http.StatusConflict},
		{SlotUnavailable("not offered"), http.StatusConflict},
		{InvalidTransition("cancelled", "confirmed"), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
		{fmt.Errorf("reserve: %w", Conflict("slot taken")), http.StatusConflict},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestExternalUnwraps(t *testing.T) {
	cause := errors.New("timeout")
	err := fmt.Errorf("slots: %w", External("acme", cause))
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through errors.Is")
	}
	if !Is(err, TypeExternal) {
		t.Fatalf("expected external type, got %s", TypeOf(err))
	}
}

func TestPublicMessageHidesInternal(t *testing.T) {
	if got := PublicMessage(Internal("db", errors.New("password=secret"))); got != "internal error" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := PublicMessage(NotFound("doctor %s not found", "d1")); got != "doctor d1 not found" {
		t.Fatalf("unexpected message %q", got)
	}
}
