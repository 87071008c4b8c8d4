//go:build integration

package ksink

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/trench/internal/containers"
	"github.com/birdayz/trench/kfn"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestKafkaSink(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := &containers.Redpanda{}
	assert.NoError(t, broker.Start(ctx))
	t.Cleanup(func() { _ = broker.Stop(context.Background()) })

	client, err := kgo.NewClient(kgo.SeedBrokers(broker.BootstrapServers()...))
	assert.NoError(t, err)

	s := NewKafkaSink(client, "feature-rows", WithBatchSize(2), WithOwnedClient())
	assert.NoError(t, s.EnsureTopic(ctx, 1, 1))
	assert.NoError(t, s.EnsureTopic(ctx, 1, 1))

	rows := testRows()
	assert.NoError(t, s.Write(ctx, rows[:1]))
	assert.Equal(t, 1, s.BufferSize())
	assert.NoError(t, s.Write(ctx, rows[1:]))
	assert.Equal(t, 0, s.BufferSize())
	assert.NoError(t, s.Close())
	assert.IsError(t, s.Write(ctx, rows), ErrClosed)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.BootstrapServers()...),
		kgo.ConsumeTopics("feature-rows"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	assert.NoError(t, err)
	defer consumer.Close()

	var got []kfn.FeatureRow
	for len(got) < len(rows) {
		fetches := consumer.PollFetches(ctx)
		assert.NoError(t, fetches.Err())
		fetches.EachRecord(func(r *kgo.Record) {
			var row kfn.FeatureRow
			assert.NoError(t, json.Unmarshal(r.Value, &row))
			assert.Equal(t, row.FeatureID, string(r.Key))
			got = append(got, row)
		})
	}
	assert.Equal(t, len(rows), len(got))
	assert.Equal(t, "country", got[0].FeatureID)
}
