package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/habit-coach/internal/domain"
)

type fakePub struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePub) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestBus_ActivityLogged(t *testing.T) {
	pub := &fakePub{}
	b := NewBus(pub, "coach", nil)
	at := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)

	err := b.ActivityLogged(context.Background(), &domain.Activity{ID: "a1", UserID: "u1", Kind: "run", Value: "health", OccurredAt: at})
	require.NoError(t, err)
	require.Equal(t, []string{"coach.activity.logged"}, pub.subjects)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(pub.payloads[0], &ev))
	assert.Equal(t, "u1", ev["user_id"])
	assert.NotContains(t, ev, "value")
}

func TestBus_ModelPublishedRoundTrip(t *testing.T) {
	pub := &fakePub{}
	b := NewBus(pub, "", nil)
	now := time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)

	err := b.ModelPublished(context.Background(), &domain.ModelArtifact{
		Type: domain.ModelOptimalTiming, Version: 4, TrainedAt: now, PublishedAt: &now,
		Metrics: domain.EvaluationMetrics{PrimaryName: "top_k_hit_rate", Primary: 0.62},
	})
	require.NoError(t, err)
	assert.Equal(t, "coach.model.published", pub.subjects[0])

	ev, err := DecodeModelEvent(pub.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, "optimal_timing@v4", ev.Tag)
	assert.Equal(t, 0.62, ev.Score)
	assert.Equal(t, now, ev.PublishedAt)
}

func TestBus_PublishError(t *testing.T) {
	b := NewBus(&fakePub{err: errors.New("nats: connection closed")}, "coach", nil)
	err := b.ActivityLogged(context.Background(), &domain.Activity{ID: "a1"})
	assert.ErrorContains(t, err, "coach.activity.logged")
}

func TestBus_NilIsNoop(t *testing.T) {
	var b *Bus
	assert.NoError(t, b.ActivityLogged(context.Background(), &domain.Activity{}))
	assert.NoError(t, b.ModelPublished(context.Background(), &domain.ModelArtifact{}))
	assert.NoError(t, b.Close())
	assert.Error(t, b.OnModelPublished(func(ModelEvent) {}))
	assert.Error(t, b.OnActivityLogged(func(ActivityEvent) {}))
}

func TestDecodeActivityEvent(t *testing.T) {
	pub := &fakePub{}
	b := NewBus(pub, "coach", nil)
	at := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)
	require.NoError(t, b.ActivityLogged(context.Background(), &domain.Activity{ID: "a1", UserID: "u1", Kind: "run", OccurredAt: at}))

	ev, err := DecodeActivityEvent(pub.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, at, ev.OccurredAt)

	_, err = DecodeActivityEvent([]byte(`{"id":"a2"}`))
	assert.Error(t, err)
	_, err = DecodeActivityEvent([]byte(`nope`))
	assert.Error(t, err)
}

func TestDecodeModelEvent_Rejects(t *testing.T) {
	_, err := DecodeModelEvent([]byte(`{"type":"habit_formation"}`))
	assert.Error(t, err)
	_, err = DecodeModelEvent([]byte(`not json`))
	assert.Error(t, err)
}
