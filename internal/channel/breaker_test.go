package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type flakyChannel struct {
	Channel
	calls int
	err   error
}

func (f *flakyChannel) Publish(context.Context, []byte) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "id-1", nil
}

func TestGuarded_TripsAndRecovers(t *testing.T) {
	inner := &flakyChannel{err: unavailable("publish", errors.New("refused"))}
	g := NewGuarded(inner, BreakerSettings{MaxFailures: 2, OpenTimeout: 50 * time.Millisecond}, zap.NewNop().Sugar())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Publish(ctx, nil)
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, "open", g.State())

	// open: fails fast without touching the transport
	_, err := g.Publish(ctx, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, inner.calls)

	inner.err = nil
	time.Sleep(60 * time.Millisecond)
	id, err := g.Publish(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)
	assert.Equal(t, "closed", g.State())
}
