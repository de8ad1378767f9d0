package loops

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLoopGracefulStop(t *testing.T) {
	var runs int

	err := RunLoop(context.Background(), zerolog.Nop(), time.Millisecond, func(context.Context) error {
		runs++
		if runs == 3 {
			return errors.Wrap(ErrGracefulStop, "done")
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, runs)
}

func TestRunLoopError(t *testing.T) {
	expected := errors.New("boom")

	err := RunLoop(context.Background(), zerolog.Nop(), time.Millisecond, func(context.Context) error {
		return expected
	})

	assert.Equal(t, expected, err)
}

func TestRunLoopContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var runs int
	err := RunLoop(ctx, zerolog.Nop(), time.Hour, func(context.Context) error {
		runs++
		cancel()
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, runs)
}

func TestRunLoopPanic(t *testing.T) {
	err := RunLoop(context.Background(), zerolog.Nop(), time.Millisecond, func(context.Context) error {
		panic("unexpected")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected")
}

func TestRunLoopInvalidInterval(t *testing.T) {
	err := RunLoop(context.Background(), zerolog.Nop(), 0, func(context.Context) error {
		t.Fatal("must not run")
		return nil
	})

	assert.Error(t, err)
}
