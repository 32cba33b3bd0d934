package permission

import (
	"context"
	"sync"
)

// StaticRequester answers permission requests from a fixed table.
// It stands in for the native dialog in the simulator and in tests.
type StaticRequester struct {
	// Results overrides the answer for individual permissions
	Results map[Permission]Result
	// Errors makes individual requests fail
	Errors map[Permission]error
	// Default is returned for permissions missing from Results
	Default Result

	mu        sync.Mutex
	requested []Permission
}

// NewStaticRequester grants everything except the listed permissions
func NewStaticRequester(denied ...Permission) *StaticRequester {
	r := &StaticRequester{
		Results: make(map[Permission]Result),
		Default: Granted,
	}
	for _, p := range denied {
		r.Results[p] = Denied
	}
	return r
}

func (r *StaticRequester) Request(ctx context.Context, p Permission, rationale Rationale) (Result, error) {
	r.mu.Lock()
	r.requested = append(r.requested, p)
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err, ok := r.Errors[p]; ok {
		return "", err
	}
	if result, ok := r.Results[p]; ok {
		return result, nil
	}
	return r.Default, nil
}

// Requested returns every permission asked for so far
func (r *StaticRequester) Requested() []Permission {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Permission, len(r.requested))
	copy(out, r.requested)
	return out
}
