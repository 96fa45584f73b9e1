// Package events publishes domain events on NATS: activity logged and
// model published. Subscribers are other coach processes; the API server
// listens for model.published to reload the registry after the worker
// retrains, and every process drops its cached predictions for a user on
// activity.logged.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ignite/habit-coach/internal/config"
	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/metrics"
)

// Subject suffixes under the configured prefix.
const (
	SubjectActivityLogged = "activity.logged"
	SubjectModelPublished = "model.published"
)

// ActivityEvent is the activity.logged payload. It carries no free-text
// fields.
type ActivityEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ModelEvent is the model.published payload.
type ModelEvent struct {
	Type        domain.ModelType `json:"type"`
	Version     int64            `json:"version"`
	Tag         string           `json:"tag"`
	TrainedAt   time.Time        `json:"trained_at"`
	Metric      string           `json:"metric"`
	Score       float64          `json:"score"`
	PublishedAt time.Time        `json:"published_at"`
}

// Publisher is the part of *nats.Conn the bus writes through.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Bus publishes coach events. A nil *Bus is a valid no-op bus, so callers
// can pass it whether or not NATS is configured.
type Bus struct {
	pub     Publisher
	nc      *nats.Conn
	prefix  string
	metrics *metrics.Metrics
}

// Connect dials NATS. An empty URL returns a nil bus and no error.
func Connect(cfg config.NATSConfig, m *metrics.Metrics) (*Bus, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("habit-coach"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[Events] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[Events] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	b := NewBus(nc, cfg.SubjectPrefix, m)
	b.nc = nc
	log.Printf("[Events] Connected to NATS at %s (prefix %s)", cfg.URL, b.prefix)
	return b, nil
}

// NewBus wraps any publisher.
func NewBus(pub Publisher, prefix string, m *metrics.Metrics) *Bus {
	if prefix == "" {
		prefix = "coach"
	}
	return &Bus{pub: pub, prefix: prefix, metrics: m}
}

// Subject returns the full subject for a suffix.
func (b *Bus) Subject(suffix string) string {
	return b.prefix + "." + suffix
}

// ActivityLogged announces a stored activity.
func (b *Bus) ActivityLogged(_ context.Context, a *domain.Activity) error {
	if b == nil {
		return nil
	}
	return b.publish(SubjectActivityLogged, ActivityEvent{
		ID:         a.ID,
		UserID:     a.UserID,
		Kind:       a.Kind,
		OccurredAt: a.OccurredAt,
	})
}

// ModelPublished announces a newly active model version.
func (b *Bus) ModelPublished(_ context.Context, a *domain.ModelArtifact) error {
	if b == nil {
		return nil
	}
	ev := ModelEvent{
		Type:      a.Type,
		Version:   a.Version,
		Tag:       a.VersionTag(),
		TrainedAt: a.TrainedAt,
		Metric:    a.Metrics.PrimaryName,
		Score:     a.Metrics.Primary,
	}
	if a.PublishedAt != nil {
		ev.PublishedAt = *a.PublishedAt
	}
	return b.publish(SubjectModelPublished, ev)
}

func (b *Bus) publish(suffix string, payload any) error {
	subject := b.Subject(suffix)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", suffix, err)
	}
	if err := b.pub.Publish(subject, data); err != nil {
		b.metrics.EventPublished(suffix, "error")
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	b.metrics.EventPublished(suffix, "ok")
	return nil
}

// OnModelPublished calls fn for every model.published event. It needs a
// live connection.
func (b *Bus) OnModelPublished(fn func(ModelEvent)) error {
	return b.subscribe(SubjectModelPublished, func(data []byte) error {
		ev, err := DecodeModelEvent(data)
		if err == nil {
			fn(ev)
		}
		return err
	})
}

// OnActivityLogged calls fn for every activity.logged event, including the
// ones this process published. It needs a live connection.
func (b *Bus) OnActivityLogged(fn func(ActivityEvent)) error {
	return b.subscribe(SubjectActivityLogged, func(data []byte) error {
		ev, err := DecodeActivityEvent(data)
		if err == nil {
			fn(ev)
		}
		return err
	})
}

func (b *Bus) subscribe(suffix string, handle func([]byte) error) error {
	if b == nil || b.nc == nil {
		return fmt.Errorf("events: no NATS connection")
	}
	_, err := b.nc.Subscribe(b.Subject(suffix), func(msg *nats.Msg) {
		if err := handle(msg.Data); err != nil {
			log.Printf("[Events] dropping malformed %s: %v", msg.Subject, err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// DecodeModelEvent parses a model.published payload.
func DecodeModelEvent(data []byte) (ModelEvent, error) {
	var ev ModelEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, err
	}
	if ev.Type == "" || ev.Version <= 0 {
		return ev, fmt.Errorf("incomplete model event")
	}
	return ev, nil
}

// DecodeActivityEvent parses an activity.logged payload.
func DecodeActivityEvent(data []byte) (ActivityEvent, error) {
	var ev ActivityEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, err
	}
	if ev.UserID == "" {
		return ev, fmt.Errorf("activity event without user_id")
	}
	return ev, nil
}

// Close drains the connection.
func (b *Bus) Close() error {
	if b == nil || b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
