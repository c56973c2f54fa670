package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FallbackAdapter attempts a primary adapter first and falls back on error.
// Once the primary has streamed visible text the turn is committed to it.
type FallbackAdapter struct {
	primary  Adapter
	fallback Adapter
}

func NewFallbackAdapter(primary Adapter, fallback Adapter) *FallbackAdapter {
	return &FallbackAdapter{
		primary:  primary,
		fallback: fallback,
	}
}

// Primary returns the preferred adapter used before fallback.
func (a *FallbackAdapter) Primary() Adapter {
	if a == nil {
		return nil
	}
	return a.primary
}

// Secondary returns the fallback adapter.
func (a *FallbackAdapter) Secondary() Adapter {
	if a == nil {
		return nil
	}
	return a.fallback
}

func (a *FallbackAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	if a == nil || a.primary == nil {
		if a != nil && a.fallback != nil {
			return a.fallback.StreamResponse(ctx, req, onDelta)
		}
		return Response{}, fmt.Errorf("fallback adapter misconfigured")
	}

	streamed := false
	resp, err := a.primary.StreamResponse(ctx, req, func(delta string) error {
		if strings.TrimSpace(delta) != "" {
			streamed = true
		}
		if onDelta == nil {
			return nil
		}
		return onDelta(delta)
	})
	if err == nil {
		if strings.TrimSpace(resp.Text) != "" || a.fallback == nil {
			return resp, nil
		}
		// An empty completion is treated as a failure.
		err = errors.New("primary adapter returned empty reply")
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return Response{}, err
	}
	if streamed || a.fallback == nil {
		return Response{}, err
	}

	fallbackResp, fallbackErr := a.fallback.StreamResponse(ctx, req, onDelta)
	if fallbackErr != nil {
		return Response{}, fmt.Errorf("primary adapter error: %w; fallback adapter error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
