// Package events publishes approval lifecycle events over NATS
// JetStream. Publishing is best-effort: the engine's transactions never
// depend on the broker, and the service runs without one.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Event subjects
const (
	SubjectRequested = "approval.requested"
	SubjectGranted   = "approval.granted"
	SubjectRejected  = "approval.rejected"
	SubjectCancelled = "approval.cancelled"
	SubjectReset     = "approval.reset"
	SubjectStale     = "approval.stale"

	SubjectDecisionApplied = "approval.decision.applied"

	StreamApprovals = "APPROVALS"
)

// ApprovalEvent is the wire payload for every approval subject.
type ApprovalEvent struct {
	EventID     string     `json:"eventId"`
	Subject     string     `json:"subject"`
	RequestID   uuid.UUID  `json:"requestId"`
	TargetType  string     `json:"targetType"`
	TargetID    uuid.UUID  `json:"targetId"`
	Status      string     `json:"status"`
	CurrentStep int        `json:"currentStep"`
	ActorID     *uuid.UUID `json:"actorId,omitempty"`
	Comment     string     `json:"comment,omitempty"`
	OccurredAt  time.Time  `json:"occurredAt"`
}

// Publisher wraps a JetStream connection. A nil Publisher is valid and
// drops every event, so wiring code can pass nil when NATS_URL is not
// configured.
type Publisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
}

// NewPublisher connects to NATS and ensures the approvals stream.
func NewPublisher(url, name string, logger *logrus.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	p := &Publisher{
		nc:     nc,
		js:     js,
		logger: logger.WithField("component", "approval-events"),
	}
	if err := p.ensureStream(); err != nil {
		p.logger.WithError(err).Warn("could not ensure approvals stream")
	}
	return p, nil
}

func (p *Publisher) ensureStream() error {
	_, err := p.js.StreamInfo(StreamApprovals)
	if err == nil {
		return nil
	}
	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:     StreamApprovals,
		Subjects: []string{"approval.>"},
		Storage:  nats.FileStorage,
	})
	return err
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p != nil && p.nc != nil {
		p.nc.Drain()
	}
}

// Publish sends an event on its subject. Failures are logged, never
// returned to the workflow path.
func (p *Publisher) Publish(ctx context.Context, subject string, event ApprovalEvent) {
	if p == nil || p.js == nil {
		return
	}
	event.Subject = subject
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).Error("marshal approval event")
		return
	}
	if _, err := p.js.Publish(subject, payload, nats.Context(ctx)); err != nil {
		p.logger.WithError(err).WithField("subject", subject).Warn("publish approval event")
	}
}

// PublishAsync publishes from a detached goroutine with its own
// timeout, since the HTTP request context may already be cancelled by
// the time the transaction commits.
func (p *Publisher) PublishAsync(subject string, event ApprovalEvent) {
	if p == nil || p.js == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		p.Publish(ctx, subject, event)
	}()
}
