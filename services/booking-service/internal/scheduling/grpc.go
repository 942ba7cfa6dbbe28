package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/clock"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCAdapter reads availability from a practice-management system exposing a unary
// GetAvailableSlots method that takes and returns google.protobuf.Struct:
//
//	request:  {provider_id, date, duration_minutes}
//	response: {slots: [{start}]}
type GRPCAdapter struct {
	name    string
	method  string
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

func NewGRPCAdapter(name, service string, conn grpc.ClientConnInterface, timeout time.Duration) *GRPCAdapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GRPCAdapter{
		name:    name,
		method:  "/" + service + "/GetAvailableSlots",
		conn:    conn,
		timeout: timeout,
	}
}

func (a *GRPCAdapter) Name() string { return a.name }

func (a *GRPCAdapter) AvailableSlots(ctx context.Context, req SlotRequest) ([]TimeSlot, error) {
	ref, err := externalRef(a.name, req)
	if err != nil {
		return nil, err
	}
	in, err := structpb.NewStruct(map[string]any{
		"provider_id":      ref,
		"date":             clock.FormatDate(req.Date),
		"duration_minutes": req.DurationMinutes,
	})
	if err != nil {
		return nil, apperr.External(a.name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, a.method, in, out); err != nil {
		return nil, apperr.External(a.name, err)
	}

	slotsField, ok := out.GetFields()["slots"]
	if !ok {
		return nil, apperr.External(a.name, fmt.Errorf("response has no slots field"))
	}
	list := slotsField.GetListValue()
	if list == nil {
		return nil, apperr.External(a.name, fmt.Errorf("slots is not a list"))
	}
	starts := make([]string, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		starts = append(starts, v.GetStructValue().GetFields()["start"].GetStringValue())
	}
	return externalSlots(a.name, starts, req)
}
