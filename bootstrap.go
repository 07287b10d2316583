package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/agents/dispatcher"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/agents/orchestrator"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/catalog"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/index"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/llm"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/order"
	promptx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/prompt"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
	toolx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/tool"
	configx "github.com/tanpawarit/Chative-Shopping-Assistant/pkg/config"
	openrouterx "github.com/tanpawarit/Chative-Shopping-Assistant/pkg/openrouter"
	qstashx "github.com/tanpawarit/Chative-Shopping-Assistant/pkg/qstash"
)

const (
	embedderOpenAI = "openai"
	embedderHash   = "hash"

	sessionStoreMemory  = "memory"
	sessionStoreUpstash = "upstash"
)

type AppConfig struct {
	CatalogPath  string `envconfig:"CATALOG_PATH" default:"products.csv"`
	IndexDir     string `envconfig:"INDEX_DIR" default:"doc/index"`
	RebuildIndex bool   `envconfig:"REBUILD_INDEX" default:"true"`
	Embedder     string `envconfig:"EMBEDDER" default:"openai"`
	SessionStore string `envconfig:"SESSION_STORE" default:"memory"`
	OrderEvents  bool   `envconfig:"ORDER_EVENTS" default:"false"`
	SearchTopK   int    `envconfig:"SEARCH_TOP_K" default:"2"`
	// SearchMinScore drops search hits below this cosine similarity. 0 disables it.
	SearchMinScore    float64 `envconfig:"SEARCH_MIN_SCORE" default:"0"`
	MaxToolIterations int     `envconfig:"MAX_TOOL_ITERATIONS" default:"5"`
	HistoryWindow     int     `envconfig:"HISTORY_WINDOW" default:"10"`
	TranscriptLimit   int     `envconfig:"TRANSCRIPT_LIMIT" default:"200"`
}

func (c AppConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Embedder)) {
	case embedderOpenAI, embedderHash:
	default:
		return fmt.Errorf("unsupported EMBEDDER %q (want openai or hash)", c.Embedder)
	}
	switch strings.ToLower(strings.TrimSpace(c.SessionStore)) {
	case sessionStoreMemory, sessionStoreUpstash:
	default:
		return fmt.Errorf("unsupported SESSION_STORE %q (want memory or upstash)", c.SessionStore)
	}
	if c.SearchMinScore < 0 || c.SearchMinScore > 1 {
		return fmt.Errorf("SEARCH_MIN_SCORE must be within [0, 1], got %g", c.SearchMinScore)
	}
	if c.MaxToolIterations < 1 {
		return fmt.Errorf("MAX_TOOL_ITERATIONS must be >= 1, got %d", c.MaxToolIterations)
	}
	return nil
}

// app holds the wired session loop and the resources to release on exit.
type app struct {
	orchestrator *orchestrator.Orchestrator
	closers      []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func loadAppConfig() (*AppConfig, error) {
	cfg, err := configx.New[AppConfig]("")
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := loadAppConfig()
	if err != nil {
		return nil, err
	}
	llmCfg, err := configx.New[llm.Config]("LLM")
	if err != nil {
		return nil, fmt.Errorf("load llm config: %w", err)
	}
	if err := llmCfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{}
	fail := func(err error) (*app, error) {
		_ = a.Close()
		return nil, err
	}

	embedder, err := newEmbedder(*cfg, llmCfg)
	if err != nil {
		return fail(err)
	}
	ix, err := loadIndex(ctx, *cfg, embedder)
	if err != nil {
		return fail(err)
	}

	store, err := newSessionStore(*cfg)
	if err != nil {
		return fail(err)
	}

	orders, closeOrders, err := newOrderService(ctx, *cfg)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, closeOrders)

	d, err := newDispatcher(ctx, *cfg, *llmCfg)
	if err != nil {
		return fail(err)
	}

	o, err := orchestrator.New(store, d, ix, orders, orchestrator.Config{
		SearchTopK:      cfg.SearchTopK,
		HistoryWindow:   cfg.HistoryWindow,
		TranscriptLimit: cfg.TranscriptLimit,
	})
	if err != nil {
		return fail(err)
	}
	a.orchestrator = o
	return a, nil
}

func newEmbedder(cfg AppConfig, llmCfg *llm.Config) (embedding.Embedder, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Embedder), embedderHash) {
		return index.NewHashEmbedder(0), nil
	}
	if llmCfg == nil {
		loaded, err := configx.New[llm.Config]("LLM")
		if err != nil {
			return nil, fmt.Errorf("load llm config: %w", err)
		}
		llmCfg = loaded
	}

	embCfg := llmCfg.Embedding()
	return index.NewOpenAIEmbedder(openrouterx.NewClient(embCfg), embCfg.Model)
}

// loadIndex rebuilds the persisted index from the catalog file, or reopens
// it when REBUILD_INDEX is off. A missing index is always rebuilt.
func loadIndex(ctx context.Context, cfg AppConfig, embedder embedding.Embedder) (*index.Index, error) {
	ix, err := openOrRebuildIndex(ctx, cfg, embedder)
	if err != nil {
		return nil, err
	}
	ix.SetMinScore(cfg.SearchMinScore)
	return ix, nil
}

func openOrRebuildIndex(ctx context.Context, cfg AppConfig, embedder embedding.Embedder) (*index.Index, error) {
	if !cfg.RebuildIndex {
		ix, err := index.Open(ctx, cfg.IndexDir, embedder)
		if err == nil {
			log.Info().Str("dir", cfg.IndexDir).Int("products", ix.Len()).Msg("catalog index loaded")
			return ix, nil
		}
		if !errors.Is(err, index.ErrIndexNotFound) {
			return nil, err
		}
		log.Warn().Str("dir", cfg.IndexDir).Msg("catalog index not found, rebuilding")
	}
	return rebuildIndex(ctx, cfg, embedder)
}

func rebuildIndex(ctx context.Context, cfg AppConfig, embedder embedding.Embedder) (*index.Index, error) {
	products, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	ix, err := index.Rebuild(ctx, cfg.IndexDir, products, embedder)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("catalog", cfg.CatalogPath).
		Str("dir", cfg.IndexDir).
		Int("products", ix.Len()).
		Msg("catalog index rebuilt")
	return ix, nil
}

func newSessionStore(cfg AppConfig) (statex.Store, error) {
	if !strings.EqualFold(strings.TrimSpace(cfg.SessionStore), sessionStoreUpstash) {
		log.Info().Msg("using in-memory session store")
		return statex.NewMemoryStore(), nil
	}

	redisCfg, err := configx.New[statex.UpstashRedisConfig]("UPSTASH_REDIS")
	if err != nil {
		return nil, fmt.Errorf("load upstash redis config: %w", err)
	}
	store, err := statex.NewUpstashRedisStore(*redisCfg)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("using upstash redis session store")
	return store, nil
}

func newOrderService(ctx context.Context, cfg AppConfig) (*order.Service, func() error, error) {
	dbCfg, err := configx.New[order.DatabaseConfig]("DATABASE")
	if err != nil {
		return nil, nil, fmt.Errorf("load database config: %w", err)
	}

	var opts []order.ServiceOption
	if cfg.OrderEvents {
		qCfg, err := configx.New[qstashx.Config]("QSTASH")
		if err != nil {
			return nil, nil, fmt.Errorf("load qstash config: %w", err)
		}
		client, err := qstashx.NewClient(*qCfg)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, order.WithPublisher(client, qCfg.Destination))
	}

	if strings.TrimSpace(dbCfg.Driver) == "" {
		log.Info().Msg("using in-memory order repository")
		return order.NewService(nil, opts...), func() error { return nil }, nil
	}

	db, err := order.OpenDB(*dbCfg)
	if err != nil {
		return nil, nil, err
	}
	repo := order.NewBunRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate orders: %w", err)
	}
	log.Info().Str("driver", dbCfg.Driver).Msg("using database order repository")
	return order.NewService(repo, opts...), db.Close, nil
}

func newDispatcher(ctx context.Context, cfg AppConfig, llmCfg llm.Config) (*dispatcher.Dispatcher, error) {
	prompts, err := promptx.LoadPromptSet()
	if err != nil {
		return nil, err
	}

	modelCfg := llmCfg.ChatModel()
	chatModel, err := modelCfg.New(ctx)
	if err != nil {
		return nil, err
	}

	infos := toolx.Infos()
	reasoner, err := dispatcher.NewLLMReasoner(ctx, chatModel, prompts, infos,
		dispatcher.WithRetry(llmCfg.ReasoningTimeout, llmCfg.ReasoningRetries),
	)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("model", modelCfg.Model).
		Int("reasoning_attempts", llmCfg.ReasoningAttempts()).
		Int("max_tool_iterations", cfg.MaxToolIterations).
		Msg("reasoning engine ready")
	return dispatcher.New(reasoner,
		dispatcher.WithMaxIterations(cfg.MaxToolIterations),
		dispatcher.WithToolNames(toolx.Names(infos)),
	)
}
