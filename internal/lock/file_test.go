package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

func TestFileLockExclusive(t *testing.T) {
	lm := NewFileLockManager(t.TempDir())
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "ledger", time.Minute)
	require.NoError(t, err)

	// flock is per open file description, so a second open in the same
	// process contends like another process would.
	_, err = lm.Acquire(ctx, "ledger", time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLockHeld))

	unlock()
	unlock() // safe to call twice

	unlock2, err := lm.Acquire(ctx, "ledger", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestFileLockKeysIndependent(t *testing.T) {
	lm := NewFileLockManager(t.TempDir())
	ctx := context.Background()

	u1, err := lm.Acquire(ctx, "ledger", 0)
	require.NoError(t, err)
	defer u1()

	u2, err := lm.Acquire(ctx, "raw", 0)
	require.NoError(t, err)
	u2()
}

type stubLock struct {
	err      error
	acquired int
	released int
}

func (s *stubLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	if s.err != nil {
		return nil, s.err
	}
	s.acquired++
	return func() { s.released++ }, nil
}

func TestChainReleasesOnFailure(t *testing.T) {
	first := &stubLock{}
	second := &stubLock{err: domain.ErrLockHeld}

	_, err := Chain{first, second}.Acquire(context.Background(), "ledger", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Equal(t, 1, first.acquired)
	assert.Equal(t, 1, first.released)
}

func TestChainReleasesAll(t *testing.T) {
	a, b := &stubLock{}, &stubLock{}
	unlock, err := Chain{a, b}.Acquire(context.Background(), "ledger", time.Minute)
	require.NoError(t, err)
	unlock()
	unlock()
	assert.Equal(t, 1, a.released)
	assert.Equal(t, 1, b.released)
}
