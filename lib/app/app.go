package app

import (
	"time"

	"go.uber.org/zap"

	"github.com/holmes89/harbor-seal/lib/agent"
	"github.com/holmes89/harbor-seal/lib/cache"
	"github.com/holmes89/harbor-seal/lib/config"
	"github.com/holmes89/harbor-seal/lib/index"
	"github.com/holmes89/harbor-seal/lib/provider"
	"github.com/holmes89/harbor-seal/lib/registry"
	"github.com/holmes89/harbor-seal/lib/repo"
	"github.com/holmes89/harbor-seal/lib/segment"
	"github.com/holmes89/harbor-seal/lib/vision"
)

// App is the explicit service context constructed once per process and
// passed to every operation. There is no hidden global state.
type App struct {
	Config   *config.Config
	Registry *registry.Registry
	Agent    *agent.Agent
	Cache    cache.Cache
	Logger   *zap.Logger

	conn *repo.Conn
}

// New wires the full service graph from config.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	conn, err := repo.NewDatabase(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}

	capability, err := provider.New(cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	store := cache.New(cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)

	orchestrator := index.NewOrchestrator(conn.DB(), capability.Embedder, logger)

	segmentOpts := []segment.Option{segment.WithBatchSize(cfg.ImageBatchSize)}
	if cfg.ImageAnalysis {
		analyzer := vision.NewModelAnalyzer(capability.LLM, logger)
		segmentOpts = append(segmentOpts, segment.WithImageAnalysis(analyzer))
	}
	segmenter := segment.NewPDFSegmenter(cfg.ScratchDir, logger, segmentOpts...)

	documents := &repo.DocumentRepo{Conn: conn}

	return &App{
		Config:   cfg,
		Registry: registry.NewRegistry(documents, segmenter, orchestrator, logger),
		Agent: agent.NewAgent(orchestrator, store, capability.LLM, agent.Options{
			Model:      cfg.GenerationModel,
			TopK:       cfg.RetrievalTopK,
			TokenLimit: cfg.ChatTokenLimit,
			HistoryTTL: time.Duration(cfg.HistoryTTLSecs) * time.Second,
		}, logger),
		Cache:  store,
		Logger: logger,
		conn:   conn,
	}, nil
}

func (a *App) Close() error {
	return a.conn.Close()
}
