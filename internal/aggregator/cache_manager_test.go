package aggregator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	agg "kmc-indicators/internal/aggregator"
)

func TestCacheManager_CommitCreatesNewGeneration(t *testing.T) {
	cm := agg.NewCacheManager(nil, 0, zap.NewNop())
	ctx := context.Background()

	before := cm.Snapshot()
	cm.Commit(ctx, []agg.Proposal{{Key: "h1/2024-W10", Fingerprint: "fp1", Payload: []byte(`{"week":"2024-W10"}`)}})
	after := cm.Snapshot()

	// the old generation is untouched
	assert.Equal(t, 0, before.Len())
	assert.Equal(t, 1, after.Len())
	_, err := cm.Get(ctx, before, "h1/2024-W10", "fp1")
	assert.ErrorIs(t, err, agg.ErrCacheMiss)

	raw, err := cm.Get(ctx, after, "h1/2024-W10", "fp1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"week":"2024-W10"}`, string(raw))
}

func TestCacheManager_FingerprintMismatchMisses(t *testing.T) {
	cm := agg.NewCacheManager(nil, 0, zap.NewNop())
	ctx := context.Background()
	cm.Commit(ctx, []agg.Proposal{{Key: "h1/2024-W10", Fingerprint: "fp1", Payload: []byte(`{}`)}})

	_, err := cm.Get(ctx, cm.Snapshot(), "h1/2024-W10", "fp2")
	assert.ErrorIs(t, err, agg.ErrCacheMiss)

	cm.Commit(ctx, []agg.Proposal{{Key: "h1/2024-W10", Fingerprint: "fp2", Payload: []byte(`{"v":2}`)}})
	assert.Equal(t, 1, cm.Snapshot().Len())
	raw, err := cm.Get(ctx, cm.Snapshot(), "h1/2024-W10", "fp2")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(raw))
}

func TestCacheManager_WritesThroughToKV(t *testing.T) {
	kv := newFakeKVStore()
	ctx := context.Background()
	cm := agg.NewCacheManager(kv, time.Hour, zap.NewNop())
	cm.Commit(ctx, []agg.Proposal{{Key: "h1/2024-W10", Fingerprint: "fp1", Payload: []byte(`{"week":"2024-W10"}`)}})

	raw, err := kv.Get(ctx, "kmc:week:h1/2024-W10:fp1")
	require.NoError(t, err)
	assert.Equal(t, `{"week":"2024-W10"}`, raw)

	// a restarted process finds the entry in the KV tier
	restarted := agg.NewCacheManager(kv, time.Hour, zap.NewNop())
	got, err := restarted.Get(ctx, restarted.Snapshot(), "h1/2024-W10", "fp1")
	require.NoError(t, err)
	assert.Equal(t, `{"week":"2024-W10"}`, string(got))
}

type brokenKV struct{}

func (brokenKV) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("connection refused")
}

func (brokenKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return errors.New("connection refused")
}

func TestCacheManager_BrokenKVIsAMiss(t *testing.T) {
	cm := agg.NewCacheManager(brokenKV{}, time.Hour, zap.NewNop())
	ctx := context.Background()

	_, err := cm.Get(ctx, cm.Snapshot(), "h1/2024-W10", "fp1")
	assert.ErrorIs(t, err, agg.ErrCacheMiss)

	cm.Commit(ctx, []agg.Proposal{{Key: "h1/2024-W10", Fingerprint: "fp1", Payload: []byte(`{}`)}})
	_, err = cm.Get(ctx, cm.Snapshot(), "h1/2024-W10", "fp1")
	assert.NoError(t, err)
}
