package loops

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrGracefulStop is a special error, if returned from within loop function,
// will stop that loop without returning any error.
var ErrGracefulStop = errors.New("stop")

// RunLoop runs fn immediately and then on a constant interval until the context is
// done. If an iteration takes longer than the interval the next one starts right
// away. A panic inside fn is recovered and returned as the loop error.
func RunLoop(ctx context.Context, logger zerolog.Logger, interval time.Duration, fn func(context.Context) error) (err error) {
	defer panicRecover(logger, &err)

	if interval <= 0 {
		return errors.Errorf("invalid loop interval %s", interval)
	}

	delayTimer := time.NewTimer(0)
	defer delayTimer.Stop()

	for {
		select {
		case <-delayTimer.C:
			start := time.Now()

			if fnErr := fn(ctx); fnErr != nil {
				if errors.Is(fnErr, ErrGracefulStop) {
					return nil
				}

				return fnErr
			}

			if elapsed := time.Since(start); elapsed >= interval {
				delayTimer.Reset(0)
			} else {
				delayTimer.Reset(interval - elapsed)
			}

		case <-ctx.Done():
			return nil
		}
	}
}

func panicRecover(logger zerolog.Logger, err *error) {
	if r := recover(); r != nil {
		if e, ok := r.(error); ok {
			*err = e
		} else {
			*err = errors.Errorf("loop panic: %v", r)
		}

		logger.Err(*err).Msg("loop panicked")
		logger.Debug().Msg(string(debug.Stack()))
	}
}
