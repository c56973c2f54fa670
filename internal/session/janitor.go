package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// IdleEnder closes conversations whose last activity is older than a cutoff.
type IdleEnder interface {
	EndIdle(ctx context.Context, before time.Time) (int, error)
}

// Janitor periodically ends conversations that fell out of the merge window.
type Janitor struct {
	store    IdleEnder
	window   time.Duration
	logger   *zap.Logger
	now      func() time.Time
	onExpire func(n int)
}

func NewJanitor(store IdleEnder, window time.Duration, logger *zap.Logger) *Janitor {
	if window <= 0 {
		window = DefaultMergeWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		store:  store,
		window: window,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetExpireHook registers a callback invoked with the number of conversations ended per sweep.
func (j *Janitor) SetExpireHook(hook func(n int)) {
	j.onExpire = hook
}

func (j *Janitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.Sweep(ctx)
			}
		}
	}()
}

// Sweep ends idle conversations once and returns how many were closed.
func (j *Janitor) Sweep(ctx context.Context) int {
	n, err := j.store.EndIdle(ctx, j.now().Add(-j.window))
	if err != nil {
		if ctx.Err() == nil {
			j.logger.Warn("end idle conversations failed", zap.Error(err))
		}
		return 0
	}
	if n > 0 {
		j.logger.Debug("ended idle conversations", zap.Int("count", n))
		if j.onExpire != nil {
			j.onExpire(n)
		}
	}
	return n
}
