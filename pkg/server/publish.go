package server

import (
	"context"
	"time"

	"github.com/nmtlunabotics/david/pkg/hub"
	"github.com/nmtlunabotics/david/pkg/pitch"
)

// JointTopic is the topic joint states are published on.
const JointTopic = "/joints/pitch"

// JointStateMessage is a joint state record as sent to subscribers.
type JointStateMessage struct {
	Topic    string    `json:"topic"`
	Stamp    time.Time `json:"stamp"`
	Name     []string  `json:"name"`
	Position []float64 `json:"position"`
	Velocity []float64 `json:"velocity"`
	Effort   []float64 `json:"effort"`
}

// Publisher broadcasts joint states to a hub.
type Publisher struct {
	hub *hub.Hub
}

// NewPublisher returns a pitch.JointPublisher backed by h.
func NewPublisher(h *hub.Hub) *Publisher {
	return &Publisher{hub: h}
}

// PublishJointState broadcasts js as a single-joint record.
func (p *Publisher) PublishJointState(ctx context.Context, js pitch.JointState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.hub.BroadcastJSON(JointStateMessage{
		Topic:    JointTopic,
		Stamp:    time.Now().UTC(),
		Name:     []string{js.Name},
		Position: []float64{js.Angle},
		Velocity: []float64{js.Velocity},
		Effort:   []float64{js.Effort},
	})
}

// GoalEvent is a feedback or result record on the pitch goal channel.
type GoalEvent struct {
	Type      string  `json:"type"` // feedback or result
	ID        string  `json:"id"`
	Progress  float64 `json:"progress"`
	ElapsedMS int64   `json:"elapsed_ms,omitempty"`
	Succeeded bool    `json:"succeeded,omitempty"`
	Outcome   string  `json:"outcome,omitempty"`
	Error     string  `json:"error,omitempty"`
}
