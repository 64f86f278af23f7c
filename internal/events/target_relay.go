package events

import (
	"context"

	"github.com/google/uuid"
)

// TargetRelay satisfies the engine's target handler contract by
// relaying final decisions onto the event bus. The service owning the
// target consumes approval.decision.applied and writes the status to
// its own rows, which keeps the hook idempotent on this side.
type TargetRelay struct {
	publisher  *Publisher
	targetType string
}

// NewTargetRelay creates a relay for one target type.
func NewTargetRelay(publisher *Publisher, targetType string) *TargetRelay {
	return &TargetRelay{publisher: publisher, targetType: targetType}
}

// OwnerID is unresolvable over the bus; cancellation falls back to the
// acting user for attribution.
func (r *TargetRelay) OwnerID(ctx context.Context, targetID uuid.UUID) (*uuid.UUID, error) {
	return nil, nil
}

// ApplyDecision publishes the decided status for the owning service.
func (r *TargetRelay) ApplyDecision(ctx context.Context, targetID uuid.UUID, status string) error {
	r.publisher.Publish(ctx, SubjectDecisionApplied, ApprovalEvent{
		TargetType: r.targetType,
		TargetID:   targetID,
		Status:     status,
	})
	return nil
}
