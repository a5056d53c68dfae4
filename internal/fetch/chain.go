package fetch

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Chain tries a primary fetcher and falls back to a secondary only when the
// primary reports a block. Other primary failures (timeouts, 404s, empty
// pages) do not trigger the fallback; the fallback provider bills per call
// and a dead page stays dead through a headless browser too.
type Chain struct {
	primary  Fetcher
	fallback Fetcher
}

// NewChain creates a Chain. fallback may be nil, in which case blocks are
// returned as errors.
func NewChain(primary, fallback Fetcher) *Chain {
	return &Chain{primary: primary, fallback: fallback}
}

func (c *Chain) Name() string { return "chain" }

// Fetch implements Fetcher.
func (c *Chain) Fetch(ctx context.Context, targetURL string) (*Result, error) {
	result, err := c.primary.Fetch(ctx, targetURL)
	if err == nil {
		return result, nil
	}

	if !eris.Is(err, ErrBlocked) || c.fallback == nil {
		return nil, err
	}

	zap.L().Debug("fetch: primary blocked, using fallback",
		zap.String("url", targetURL),
		zap.String("fallback", c.fallback.Name()),
	)

	result, fbErr := c.fallback.Fetch(ctx, targetURL)
	if fbErr != nil {
		return nil, eris.Wrap(fbErr, "fetch: fallback failed after block")
	}
	return result, nil
}
