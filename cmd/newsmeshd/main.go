// Command newsmeshd runs the content aggregation service: an HTTP intake,
// an optional Kafka intake, and the realtime processing pipeline.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"newsmesh/internal/aggregator"
	"newsmesh/internal/api"
	"newsmesh/internal/clustering"
	"newsmesh/internal/config"
	"newsmesh/internal/dedup"
	"newsmesh/internal/embedding"
	"newsmesh/internal/llm"
	"newsmesh/internal/preprocess"
	"newsmesh/internal/realtime"
	"newsmesh/internal/scoring"
	"newsmesh/internal/source"
	"newsmesh/internal/store"
)

const shutdownGrace = 15 * time.Second

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if os.Getenv("NEWSMESH_PRETTY_LOG") != "" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}
	if cfg.LLM.APIKey == "" {
		log.Fatal().Msg("COHERE_API_KEY is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent, err := buildAgent(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("pipeline construction failed")
	}

	processor := realtime.New(agent, cfg.Realtime, log)
	if err := processor.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("processor start failed")
	}

	var intake *realtime.KafkaIntake
	if len(cfg.Store.KafkaBrokers) > 0 {
		intake, err = realtime.NewKafkaIntake(realtime.KafkaIntakeConfig{
			Brokers: cfg.Store.KafkaBrokers,
			Topic:   cfg.Store.KafkaTopic,
			GroupID: cfg.Store.KafkaGroupID,
		}, processor, log)
		if err != nil {
			log.Fatal().Err(err).Msg("kafka intake construction failed")
		}
		if err := intake.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("kafka intake start failed")
		}
	}

	fetcher := source.NewRSSFetcher(0, log)
	feeds := []source.Feed{source.FeedPresets["cna"], source.FeedPresets["st"], source.FeedPresets["hn"]}
	server := api.NewServer(processor, fetcher, feeds, log)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router(),
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if intake != nil {
		if err := intake.Close(); err != nil {
			log.Warn().Err(err).Msg("kafka intake close failed")
		}
	}
	if err := processor.Stop(); err != nil {
		log.Warn().Err(err).Msg("processor stop incomplete")
	}
	log.Info().Msg("shutdown complete")
}

// buildAgent wires every pipeline collaborator. The vector store, bloom
// filter and archiver are optional: absent configuration disables them.
func buildAgent(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*aggregator.Agent, error) {
	provider, err := embedding.NewCohereProvider(cfg.LLM.APIKey, cfg.Embedding.Model, cfg.Embedding.Timeout)
	if err != nil {
		return nil, err
	}
	embedder := embedding.NewManager(provider, cfg.Embedding, log)

	cohereLLM, err := llm.NewCohereClient(cfg.LLM, log)
	if err != nil {
		return nil, err
	}

	var strategy clustering.Strategy
	switch cfg.Clustering.Strategy {
	case "agentic":
		strategy = clustering.NewAgenticStrategy(cfg.Clustering, cfg.Embedding.Dimension, cohereLLM, log)
	default:
		strategy = clustering.NewDensityStrategy(cfg.Clustering, cfg.Embedding.Dimension, log)
	}
	clusterer := clustering.NewEngine(cfg.Clustering, cfg.Embedding.Dimension, strategy, log)

	scorer, err := scoring.NewScorer(cfg.Scoring, log)
	if err != nil {
		return nil, err
	}

	deps := aggregator.Deps{
		Preprocessor: preprocess.New(cfg.Preprocess, log),
		Embedder:     embedder,
		Deduper:      dedup.New(cfg.Dedup, log),
		Clusterer:    clusterer,
		Scorer:       scorer,
		Summarizer:   cohereLLM,
	}

	if cfg.Store.ChromaHost != "" {
		chroma, err := store.NewChroma(store.ChromaConfig{
			Host:           cfg.Store.ChromaHost,
			Port:           cfg.Store.ChromaPort,
			CollectionName: cfg.Store.CollectionName,
			TTL:            cfg.Store.ChunkTTL,
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("vector store unavailable, continuing without it")
		} else {
			deps.Store = chroma
		}
	}

	if cfg.Store.RedisAddr != "" {
		bloom, err := store.NewBloom(store.BloomConfig{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			Key:      cfg.Store.BloomKey,
			TTL:      cfg.Store.BloomTTL,
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("bloom filter unavailable, continuing without it")
		} else {
			deps.Bloom = bloom
		}
	}

	if cfg.Store.S3Bucket != "" {
		archiver, err := store.NewArchiver(ctx, store.ArchiverConfig{
			Bucket: cfg.Store.S3Bucket,
			Region: cfg.Store.S3Region,
			Prefix: cfg.Store.S3Prefix,
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("archiver unavailable, continuing without it")
		} else {
			deps.Archiver = archiver
		}
	}

	return aggregator.New(deps, cfg.Aggregator, cfg.Dedup, log), nil
}
