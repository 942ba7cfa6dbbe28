package scheduling

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/dentbook/libs/grpcx"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/model"
)

// Registry maps a clinic's management-system identifier to the adapter serving it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns a registry where "local" (and an empty identifier) resolve to local.
func NewRegistry(local Adapter) *Registry {
	r := &Registry{adapters: map[string]Adapter{}}
	r.Register(model.ManagementLocal, local)
	return r
}

func (r *Registry) Register(identifier string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[normalizeIdentifier(identifier)] = a
}

// Resolve returns the adapter for identifier. Unknown identifiers are a configuration error;
// they never fall back to the local adapter.
func (r *Registry) Resolve(identifier string) (Adapter, error) {
	key := normalizeIdentifier(identifier)
	if key == "" {
		key = model.ManagementLocal
	}
	r.mu.RLock()
	a, ok := r.adapters[key]
	r.mu.RUnlock()
	if !ok || a == nil {
		return nil, apperr.Configuration("unknown management system %q", identifier)
	}
	return a, nil
}

// Names lists the registered identifiers in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SystemConfig describes one external practice-management system in the config file.
type SystemConfig struct {
	Kind    string        `mapstructure:"kind"` // http or grpc
	BaseURL string        `mapstructure:"base_url"`
	Addr    string        `mapstructure:"addr"`
	Service string        `mapstructure:"service"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// BuildRegistry registers local plus every configured external system. The returned
// closer releases gRPC connections and must be called on shutdown.
func BuildRegistry(local Adapter, systems map[string]SystemConfig) (*Registry, func() error, error) {
	reg := NewRegistry(local)
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}

	names := make([]string, 0, len(systems))
	for name := range systems {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sys := systems[name]
		id := normalizeIdentifier(name)
		if id == "" || id == model.ManagementLocal {
			_ = closeAll()
			return nil, nil, fmt.Errorf("management system name %q is reserved", name)
		}
		switch strings.ToLower(sys.Kind) {
		case "http":
			if sys.BaseURL == "" {
				_ = closeAll()
				return nil, nil, fmt.Errorf("management system %s: base_url is required", name)
			}
			reg.Register(id, NewHTTPAdapter(id, sys.BaseURL, sys.APIKey, sys.Timeout))
		case "grpc":
			if sys.Addr == "" || sys.Service == "" {
				_ = closeAll()
				return nil, nil, fmt.Errorf("management system %s: addr and service are required", name)
			}
			conn, err := grpcx.NewClient(sys.Addr, grpcx.DialOptions{})
			if err != nil {
				_ = closeAll()
				return nil, nil, fmt.Errorf("management system %s: %w", name, err)
			}
			closers = append(closers, conn.Close)
			reg.Register(id, NewGRPCAdapter(id, sys.Service, conn, sys.Timeout))
		default:
			_ = closeAll()
			return nil, nil, fmt.Errorf("management system %s: unknown kind %q", name, sys.Kind)
		}
	}
	return reg, closeAll, nil
}
