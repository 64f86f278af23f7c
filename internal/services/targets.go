package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TargetHandler is implemented once per approvable domain type. The
// engine calls ApplyDecision exactly once on final approval and once on
// final rejection; implementations must be idempotent-safe because
// callers may retry a failed engine invocation.
type TargetHandler interface {
	// OwnerID resolves the user owning the target, used to attribute
	// cancellation history. May return nil when the target has no
	// meaningful owner.
	OwnerID(ctx context.Context, targetID uuid.UUID) (*uuid.UUID, error)

	// ApplyDecision propagates the terminal status (approved or
	// rejected) to the target's own domain state.
	ApplyDecision(ctx context.Context, targetID uuid.UUID, status string) error
}

// TargetRegistry maps the closed set of target type tags to their
// handlers. Unknown tags are rejected at request creation; nothing is
// resolved reflectively.
type TargetRegistry struct {
	mu       sync.RWMutex
	handlers map[string]TargetHandler
}

// NewTargetRegistry creates an empty registry.
func NewTargetRegistry() *TargetRegistry {
	return &TargetRegistry{handlers: make(map[string]TargetHandler)}
}

// Register binds a handler to a target type tag.
func (r *TargetRegistry) Register(targetType string, handler TargetHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[targetType] = handler
}

// Resolve returns the handler for a tag.
func (r *TargetRegistry) Resolve(targetType string) (TargetHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[targetType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for target type %q", targetType)
	}
	return h, nil
}

// Known reports whether a tag is registered.
func (r *TargetRegistry) Known(targetType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[targetType]
	return ok
}
