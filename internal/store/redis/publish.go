package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultControlChannel carries restart requests for the execution process.
const DefaultControlChannel = "ctl:execution:restart"

// RestartSignal is the JSON payload published on the control channel.
type RestartSignal struct {
	Reason   string `json:"reason"`
	Strategy string `json:"strategy"`
	RunID    string `json:"run_id,omitempty"`
	TS       int64  `json:"ts"`
}

// Publisher sends control messages over Redis pub/sub.
type Publisher struct {
	client  Client
	channel string
}

// NewPublisher publishes on channel, or DefaultControlChannel when empty.
func NewPublisher(client Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultControlChannel
	}
	return &Publisher{client: client, channel: channel}
}

// Channel returns the control channel name.
func (p *Publisher) Channel() string { return p.channel }

// Restart publishes a restart request. It returns the number of
// subscribers that received it; zero is not an error.
func (p *Publisher) Restart(ctx context.Context, strategy, reason, runID string, at time.Time) (int64, error) {
	b, err := json.Marshal(RestartSignal{Reason: reason, Strategy: strategy, RunID: runID, TS: at.Unix()})
	if err != nil {
		return 0, err
	}
	n, err := p.client.Publish(ctx, p.channel, string(b)).Result()
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return n, nil
}
