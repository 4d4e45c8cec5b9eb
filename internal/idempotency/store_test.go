package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(mock *simpleMock, now time.Time) *Store {
	s := NewStore(mock, "idempotency-table", 48*time.Hour)
	s.nowFunc = func() time.Time { return now }
	return s
}

func TestCreateIfNotExists_Get_MarkDone(t *testing.T) {
	mock := newSimpleMock()
	s := newTestStore(mock, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()
	key := Key(ScopeCheckout, "user-1", "abc")

	created, err := s.CreateIfNotExists(ctx, key, ScopeCheckout, "fp-1")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateIfNotExists(ctx, key, ScopeCheckout, "fp-1")
	require.NoError(t, err)
	assert.False(t, created, "duplicate create must report existing record")

	rec, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusInProgress, rec.Status)
	assert.Equal(t, ScopeCheckout, rec.Scope)
	assert.Equal(t, 1, rec.Attempts)

	require.NoError(t, s.MarkDone(ctx, key, "group-1", `{"ok":true}`, 201))

	rec, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, rec.Status)
	assert.Equal(t, "group-1", rec.ResourceID)
	assert.Equal(t, `{"ok":true}`, rec.ResponseBody)
	assert.Equal(t, 201, rec.ResponseStatus)

	// a finished record cannot be failed afterwards
	assert.ErrorIs(t, s.MarkFailed(ctx, key, "late"), ErrConditionFailed)
}

func TestAcquire_Decisions(t *testing.T) {
	mock := newSimpleMock()
	s := newTestStore(mock, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()
	key := Key(ScopeCheckout, "user-1", "k")

	d, _, err := s.Acquire(ctx, key, ScopeCheckout, "fp")
	require.NoError(t, err)
	assert.Equal(t, Proceed, d)

	d, rec, err := s.Acquire(ctx, key, ScopeCheckout, "fp")
	require.NoError(t, err)
	assert.Equal(t, InProgress, d)
	require.NotNil(t, rec)

	d, _, err = s.Acquire(ctx, key, ScopeCheckout, "other-body")
	require.NoError(t, err)
	assert.Equal(t, Mismatch, d)

	require.NoError(t, s.MarkDone(ctx, key, "group-9", `{"order_group_id":"group-9"}`, 201))
	d, rec, err = s.Acquire(ctx, key, ScopeCheckout, "fp")
	require.NoError(t, err)
	assert.Equal(t, Replay, d)
	assert.Equal(t, `{"order_group_id":"group-9"}`, rec.ResponseBody)
}

func TestAcquire_ReclaimsFailedRecord(t *testing.T) {
	mock := newSimpleMock()
	s := newTestStore(mock, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()
	key := Key(ScopeJob, "job-1")

	d, _, err := s.Acquire(ctx, key, ScopeJob, "")
	require.NoError(t, err)
	require.Equal(t, Proceed, d)
	require.NoError(t, s.MarkFailed(ctx, key, "gateway timeout"))

	rec, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "gateway timeout", rec.Note)

	d, _, err = s.Acquire(ctx, key, ScopeJob, "")
	require.NoError(t, err)
	assert.Equal(t, Proceed, d)

	rec, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, rec.Status)
	assert.Equal(t, 2, rec.Attempts)

	ok, err := s.Reclaim(ctx, key, rec.Attempts)
	require.NoError(t, err)
	assert.False(t, ok, "only FAILED records can be reclaimed")
}

func TestGet_ExpiredRecordIsMissing(t *testing.T) {
	mock := newSimpleMock()
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	s := newTestStore(mock, start)
	ctx := context.Background()
	key := Key(ScopeJob, "job-2")

	_, err := s.CreateIfNotExists(ctx, key, ScopeJob, "")
	require.NoError(t, err)

	s.nowFunc = func() time.Time { return start.Add(49 * time.Hour) }
	rec, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, rec)

	d, _, err := s.Acquire(ctx, key, ScopeJob, "")
	require.NoError(t, err)
	assert.Equal(t, Proceed, d)
	assert.Equal(t, 1, mock.deleteCalls)
}

func TestCreateIfNotExists_PropagatesErrors(t *testing.T) {
	mock := newSimpleMock()
	mock.failNext = errors.New("throttled")
	s := newTestStore(mock, time.Now())

	_, err := s.CreateIfNotExists(context.Background(), "k", ScopeJob, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestIsConditionFailure(t *testing.T) {
	assert.True(t, isConditionFailure(&types.ConditionalCheckFailedException{}))
	assert.False(t, isConditionFailure(errors.New("boom")))
}

func TestKeyAndDecisionString(t *testing.T) {
	assert.Equal(t, "checkout#u1#abc", Key(ScopeCheckout, "u1", "abc"))
	assert.Equal(t, "replay", Replay.String())
}
