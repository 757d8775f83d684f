package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kfin-labs/dartdeep/config"
	"github.com/kfin-labs/dartdeep/internal/cache"
	"github.com/kfin-labs/dartdeep/internal/company"
	"github.com/kfin-labs/dartdeep/internal/dart"
	"github.com/kfin-labs/dartdeep/internal/httpx"
	"github.com/kfin-labs/dartdeep/internal/llm"
	"github.com/kfin-labs/dartdeep/internal/pipeline"
	"github.com/kfin-labs/dartdeep/internal/telemetry"
)

func main() {
	root := &cobra.Command{Use: "dartdeep"}
	root.AddCommand(serveCMD(), searchCMD(), companiesCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the wired object graph shared by all subcommands.
type app struct {
	cfg          *config.Config
	orchestrator *pipeline.Orchestrator
	resolver     *company.Resolver
	catalogue    *dart.Client
	contentCache *cache.Cache
	logger       *log.Logger
}

func buildApp(cfgPath string, withMetrics bool) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	mk := func(prefix string) *log.Logger {
		return log.New(os.Stderr, prefix, log.LstdFlags|log.Lmsgprefix)
	}

	var store cache.Store
	switch {
	case cfg.Cache.RedisAddr != "":
		rs, err := cache.NewRedisStore(context.Background(), cfg.Cache.RedisAddr, "", cfg.Cache.RedisDB, "dartdeep:")
		if err != nil {
			return nil, err
		}
		store = rs
	case cfg.Dart.CachePath != "":
		ds, err := cache.NewDiskStore(cfg.Dart.CachePath)
		if err != nil {
			return nil, err
		}
		store = ds
	default:
		store = cache.NewMemoryStore(cfg.Cache.MaxBytes)
	}
	contentCache := cache.New(store)

	httpClient := httpx.New(30*time.Second, 3, 500*time.Millisecond, map[string]httpx.HostLimit{
		dart.APIHost: {PerDay: cfg.Dart.APIRateLimit, Burst: cfg.Dart.BurstPerSecond},
	})

	catalogue := dart.NewClient(cfg.Dart.APIKey, httpClient, contentCache, mk("[DART] "))
	catalogue.DownloadDir = cfg.Dart.DownloadPath
	resolver := company.NewResolver(catalogue, 7*24*time.Hour, mk("[CORP] "))

	llmClient := llm.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, cfg.LLM.Timeout, mk("[LLM] "))

	var viewer *dart.Viewer
	if cfg.Dart.ViewerEnabled {
		viewer = dart.NewViewer(cfg.Dart.ParseTimeout(), 0)
	}

	var filterLLM llm.Client
	if cfg.LLM.FilterLLM {
		filterLLM = llmClient
	}

	var observer *telemetry.Recorder
	if withMetrics {
		observer = telemetry.NewRecorder(prometheus.DefaultRegisterer, contentCache.Stats)
	}

	expander := pipeline.NewExpander(llmClient, resolver, mk("[EXPAND] "))
	searcher := pipeline.NewSearcher(catalogue, mk("[SEARCH] "))
	filter := pipeline.NewFilter(filterLLM, mk("[FILTER] "))
	fetcher := pipeline.NewFetcher(catalogue, viewerOrNil(viewer), cfg.Dart.ParallelDownloads, cfg.Dart.ParseTimeout(), mk("[FETCH] "))
	checker := pipeline.NewChecker(llmClient, mk("[SUFFIC] "))
	synthesizer := pipeline.NewSynthesizer(llmClient, mk("[SYNTH] "))

	var obs pipeline.Observer
	if observer != nil {
		obs = observer
	}
	defaults := pipeline.Options{
		MaxAttempts:         cfg.Search.MaxAttempts,
		MaxResultsPerSearch: cfg.Search.MaxSearchResults,
	}
	orch := pipeline.NewOrchestrator(expander, searcher, filter, fetcher, checker, synthesizer,
		defaults, contentCache.Stats, obs, mk("[ORCH] "))

	return &app{
		cfg:          cfg,
		orchestrator: orch,
		resolver:     resolver,
		catalogue:    catalogue,
		contentCache: contentCache,
		logger:       mk("[MAIN] "),
	}, nil
}

// viewerOrNil keeps a typed-nil *dart.Viewer from leaking into the
// fetcher's interface field.
func viewerOrNil(v *dart.Viewer) pipeline.ViewerSource {
	if v == nil {
		return nil
	}
	return v
}
