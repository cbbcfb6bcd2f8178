// Package notify publishes capture results to a message topic so other
// tooling can pick them up as they are produced.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/root4loot/portshot/pkg/screener"
)

// Publisher publishes one capture result.
type Publisher interface {
	Publish(ctx context.Context, runID string, result screener.Result) error
}

type message struct {
	RunID  string          `json:"run_id"`
	Result screener.Result `json:"result"`
}

// PubSubPublisher implements Publisher using a Pub/Sub topic.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubPublisher constructs a publisher for the given topic. If the
// topic is nil, publishes are treated as no-ops.
func NewPubSubPublisher(topic *pubsub.Topic) *PubSubPublisher {
	return &PubSubPublisher{topic: topic}
}

// Publish sends the result as JSON with routing attributes.
func (p *PubSubPublisher) Publish(ctx context.Context, runID string, result screener.Result) error {
	if p.topic == nil {
		return nil
	}

	data, err := json.Marshal(message{RunID: runID, Result: result})
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	status := "captured"
	if !result.OK() {
		status = "failed"
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id":      runID,
			"url":         result.Target.URL,
			"address":     result.Target.Address,
			"port":        result.Target.Port,
			"status":      status,
			"status_code": strconv.Itoa(result.StatusCode),
		},
	}).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish %s: %w", result.Target.URL, err)
	}
	return nil
}

// Stop flushes pending messages and stops the topic's publish goroutines.
func (p *PubSubPublisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}

// NoopPublisher is used when no topic is configured.
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, runID string, result screener.Result) error {
	return nil
}

// PublishAll publishes every result in order and returns the number that
// failed along with the last error.
func PublishAll(ctx context.Context, p Publisher, runID string, results []screener.Result) (failed int, err error) {
	if p == nil {
		p = &NoopPublisher{}
	}
	for _, r := range results {
		if perr := p.Publish(ctx, runID, r); perr != nil {
			failed++
			err = perr
		}
	}
	return failed, err
}
