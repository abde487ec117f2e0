package fasttrack

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zigindex/indexer/internal/store"
)

// TestListener_SecondStartIsRejected exercises the single
// fast-track-listener-per-process guard (decided as an open question):
// a second Start on the same Listener must not spawn a second
// notification consumer.
func TestListener_SecondStartIsRejected(t *testing.T) {
	l, err := New(&store.Store{}, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // pre-cancel: Run returns immediately instead of touching the nil pool

	firstErr := l.Start(ctx)
	assert.True(t, errors.Is(firstErr, context.Canceled))

	secondErr := l.Start(ctx)
	assert.ErrorIs(t, secondErr, ErrAlreadyStarted)
}
