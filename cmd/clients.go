package main

import (
	"time"

	"github.com/EfanMutembo/leadpipe/internal/fetch"
	"github.com/EfanMutembo/leadpipe/internal/gateway"
	"github.com/EfanMutembo/leadpipe/internal/pipeline"
	"github.com/EfanMutembo/leadpipe/internal/store"
	anthropicpkg "github.com/EfanMutembo/leadpipe/pkg/anthropic"
	"github.com/EfanMutembo/leadpipe/pkg/anymailfinder"
	"github.com/EfanMutembo/leadpipe/pkg/apify"
	"github.com/EfanMutembo/leadpipe/pkg/firecrawl"
	"github.com/EfanMutembo/leadpipe/pkg/instantly"
)

// buildGateway creates the provider gateway from the configured retry policy.
func buildGateway() *gateway.Gateway {
	return gateway.New(gateway.PolicyFromConfig(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoffMs,
		cfg.Retry.MaxBackoffMs,
		cfg.Retry.TimeoutSecs,
		cfg.Retry.Multiplier,
		cfg.Retry.JitterFraction,
	))
}

// buildPipeline wires every provider client into a Pipeline.
func buildPipeline(st store.Store, gw *gateway.Gateway) *pipeline.Pipeline {
	apifyClient := apify.NewClient(cfg.Apify.Token, cfg.Apify.Actor,
		apify.WithBaseURL(cfg.Apify.BaseURL))
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	amfClient := anymailfinder.NewClient(cfg.AnyMailFinder.Key,
		anymailfinder.WithBaseURL(cfg.AnyMailFinder.BaseURL))
	instantlyClient := instantly.NewClient(cfg.Instantly.Key,
		instantly.WithBaseURL(cfg.Instantly.BaseURL),
		instantly.WithRateLimit(cfg.Instantly.RatePerSecond))
	firecrawlClient := firecrawl.NewClient(cfg.Firecrawl.Key,
		firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))

	// Direct fetch first; Firecrawl renders the sites that block it.
	fetchTimeout := time.Duration(cfg.Enrich.FetchTimeoutSecs) * time.Second
	chain := fetch.NewChain(
		fetch.NewDirectFetcher(fetchTimeout),
		fetch.NewFirecrawlAdapter(firecrawlClient),
	)
	sites := fetch.NewSiteFetcher(chain, cfg.Enrich.MaxPagesPerSite)

	return pipeline.New(cfg, st, gw, apifyClient, anthropicClient, amfClient, instantlyClient, sites)
}
