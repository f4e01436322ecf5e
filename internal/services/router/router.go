package router

import (
	"context"

	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/katxuyu/voice-ai-agent/internal/repository"
)

// Router resolves which sales reps may take a call for a given service and
// province. An empty result means intake must fail closed.
type Router struct {
	reps *repository.SalesRepRepository

	// fallback pools from config, used when the sales_reps table is empty for
	// a service (bootstrap installs drive routing purely from env).
	fallback map[string][]string
}

// New creates a Router.
func New(reps *repository.SalesRepRepository, fallback map[string][]string) *Router {
	return &Router{reps: reps, fallback: fallback}
}

// RepsFor returns the ordered GHL user ids of active reps covering
// (service, province).
func (r *Router) RepsFor(ctx context.Context, service domain.Service, province string) ([]string, error) {
	all, err := r.reps.GetAllActive(ctx)
	if err != nil {
		return nil, err
	}

	// Bootstrap installs have no rows at all and route purely from env.
	if len(all) == 0 {
		return r.fallback[string(service)], nil
	}

	var out []string
	for i := range all {
		if all[i].Covers(service, province) {
			out = append(out, all[i].GHLUserID)
		}
	}
	return out, nil
}
