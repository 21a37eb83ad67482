// Package config loads and validates service configuration from a YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv   = "NEWSMESH_CONFIG"
	cohereKeyEnv    = "COHERE_API_KEY"
	redisAddrEnv    = "REDIS_ADDR"
	redisPassEnv    = "REDIS_PASS"
	kafkaBrokersEnv = "KAFKA_BROKERS"
	s3BucketEnv     = "S3_BUCKET"
	portEnv         = "PORT"
)

// Config holds all tunables for the aggregation core and its collaborators.
type Config struct {
	Preprocess PreprocessConfig `yaml:"preprocess"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	LLM        LLMConfig        `yaml:"llm"`
	Store      StoreConfig      `yaml:"store"`
	Server     ServerConfig     `yaml:"server"`
}

// PreprocessConfig controls text cleaning and chunking. The Keep* toggles
// invert the default so that URLs, emails and phone numbers are stripped
// unless explicitly retained.
type PreprocessConfig struct {
	MinContentLength int  `yaml:"minContentLength"`
	MaxChunkSize     int  `yaml:"maxChunkSize"`
	ChunkOverlap     int  `yaml:"chunkOverlap"`
	KeepURLs         bool `yaml:"keepUrls"`
	KeepEmails       bool `yaml:"keepEmails"`
	KeepPhones       bool `yaml:"keepPhones"`
}

// EmbeddingConfig controls the vectorization collaborator.
type EmbeddingConfig struct {
	Model      string        `yaml:"model"`
	Dimension  int           `yaml:"dimension"`
	BatchSize  int           `yaml:"batchSize"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
	RetryDelay time.Duration `yaml:"retryDelay"`
}

// DedupConfig controls duplicate detection thresholds.
type DedupConfig struct {
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
	TitleRatioThreshold float64 `yaml:"titleRatioThreshold"`
	FuzzyRatioThreshold float64 `yaml:"fuzzyRatioThreshold"`
	RecentWindowHours   int     `yaml:"recentWindowHours"`
}

// ClusteringConfig controls both clustering strategies.
type ClusteringConfig struct {
	MinClusterSize    int     `yaml:"minClusterSize"`
	MaxClusterSize    int     `yaml:"maxClusterSize"`
	Threshold         float64 `yaml:"threshold"`
	GroupingThreshold float64 `yaml:"groupingThreshold"`
	CoherenceFloor    float64 `yaml:"coherenceFloor"`
	MaxIterations     int     `yaml:"maxIterations"`
	Strategy          string  `yaml:"strategy"` // "density" or "agentic"
}

// ScoringConfig controls cluster ranking.
type ScoringConfig struct {
	RecencyWeight        float64 `yaml:"recencyWeight"`
	ReliabilityWeight    float64 `yaml:"reliabilityWeight"`
	RelevanceWeight      float64 `yaml:"relevanceWeight"`
	TimeDecayHours       float64 `yaml:"timeDecayHours"`
	MaxTimeDecay         float64 `yaml:"maxTimeDecay"`
	BreakingNewsBoost    float64 `yaml:"breakingNewsBoost"`
	SourceDiversityBonus float64 `yaml:"sourceDiversityBonus"`
}

// AggregatorConfig controls the orchestration pipeline.
type AggregatorConfig struct {
	MaxClustersOutput int `yaml:"maxClustersOutput"`
}

// RealtimeConfig controls the realtime job processor.
type RealtimeConfig struct {
	Workers           int           `yaml:"workers"`
	QueueSize         int           `yaml:"queueSize"`
	PriorityQueueSize int           `yaml:"priorityQueueSize"`
	PriorityThreshold int           `yaml:"priorityThreshold"`
	BatchSize         int           `yaml:"batchSize"`
	BatchInterval     time.Duration `yaml:"batchInterval"`
	StopTimeout       time.Duration `yaml:"stopTimeout"`
	MaxActiveClusters int           `yaml:"maxActiveClusters"`
	RecentChunkBuffer int           `yaml:"recentChunkBuffer"`
}

// LLMConfig controls the text-generation collaborator.
type LLMConfig struct {
	APIKey     string        `yaml:"-"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
	RetryDelay time.Duration `yaml:"retryDelay"`
}

// StoreConfig wires the optional persistence collaborators.
type StoreConfig struct {
	ChromaHost     string        `yaml:"chromaHost"`
	ChromaPort     int           `yaml:"chromaPort"`
	CollectionName string        `yaml:"collectionName"`
	ChunkTTL       time.Duration `yaml:"chunkTtl"`
	RedisAddr      string        `yaml:"redisAddr"`
	RedisPassword  string        `yaml:"-"`
	BloomKey       string        `yaml:"bloomKey"`
	BloomTTL       time.Duration `yaml:"bloomTtl"`
	S3Bucket       string        `yaml:"s3Bucket"`
	S3Region       string        `yaml:"s3Region"`
	S3Prefix       string        `yaml:"s3Prefix"`
	KafkaBrokers   []string      `yaml:"kafkaBrokers"`
	KafkaTopic     string        `yaml:"kafkaTopic"`
	KafkaGroupID   string        `yaml:"kafkaGroupId"`
}

// ServerConfig controls the intake HTTP surface.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// Load reads the config file named by NEWSMESH_CONFIG (or the given fallback
// path), applies defaults and env overrides, and validates the result.
func Load(fallbackPath string) (*Config, error) {
	path := os.Getenv(configPathEnv)
	if path == "" {
		path = fallbackPath
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a validated config with all defaults applied and no file or
// environment input. Useful for tests and embedded use.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Preprocess.MinContentLength == 0 {
		c.Preprocess.MinContentLength = 50
	}
	if c.Preprocess.MaxChunkSize == 0 {
		c.Preprocess.MaxChunkSize = 2000
	}
	if c.Preprocess.ChunkOverlap == 0 {
		c.Preprocess.ChunkOverlap = 200
	}

	if c.Embedding.Model == "" {
		c.Embedding.Model = "embed-english-v3.0"
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = 1024
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = 32
	}
	if c.Embedding.Timeout == 0 {
		c.Embedding.Timeout = 60 * time.Second
	}
	if c.Embedding.MaxRetries == 0 {
		c.Embedding.MaxRetries = 3
	}
	if c.Embedding.RetryDelay == 0 {
		c.Embedding.RetryDelay = time.Second
	}

	if c.Dedup.SimilarityThreshold == 0 {
		c.Dedup.SimilarityThreshold = 0.85
	}
	if c.Dedup.TitleRatioThreshold == 0 {
		c.Dedup.TitleRatioThreshold = 0.85
	}
	if c.Dedup.FuzzyRatioThreshold == 0 {
		c.Dedup.FuzzyRatioThreshold = 0.9
	}
	if c.Dedup.RecentWindowHours == 0 {
		c.Dedup.RecentWindowHours = 24
	}

	if c.Clustering.MinClusterSize == 0 {
		c.Clustering.MinClusterSize = 2
	}
	if c.Clustering.MaxClusterSize == 0 {
		c.Clustering.MaxClusterSize = 20
	}
	if c.Clustering.Threshold == 0 {
		c.Clustering.Threshold = 0.7
	}
	if c.Clustering.GroupingThreshold == 0 {
		c.Clustering.GroupingThreshold = 0.75
	}
	if c.Clustering.CoherenceFloor == 0 {
		c.Clustering.CoherenceFloor = 0.6
	}
	if c.Clustering.MaxIterations == 0 {
		c.Clustering.MaxIterations = 3
	}
	if c.Clustering.Strategy == "" {
		c.Clustering.Strategy = "density"
	}

	if c.Scoring.RecencyWeight == 0 && c.Scoring.ReliabilityWeight == 0 && c.Scoring.RelevanceWeight == 0 {
		c.Scoring.RecencyWeight = 0.4
		c.Scoring.ReliabilityWeight = 0.3
		c.Scoring.RelevanceWeight = 0.3
	}
	if c.Scoring.TimeDecayHours == 0 {
		c.Scoring.TimeDecayHours = 12
	}
	if c.Scoring.MaxTimeDecay == 0 {
		c.Scoring.MaxTimeDecay = 0.05
	}
	if c.Scoring.BreakingNewsBoost == 0 {
		c.Scoring.BreakingNewsBoost = 1.3
	}
	if c.Scoring.SourceDiversityBonus == 0 {
		c.Scoring.SourceDiversityBonus = 0.1
	}

	if c.Aggregator.MaxClustersOutput == 0 {
		c.Aggregator.MaxClustersOutput = 10
	}

	if c.Realtime.Workers == 0 {
		c.Realtime.Workers = 4
	}
	if c.Realtime.QueueSize == 0 {
		c.Realtime.QueueSize = 100
	}
	if c.Realtime.PriorityQueueSize == 0 {
		c.Realtime.PriorityQueueSize = 50
	}
	if c.Realtime.PriorityThreshold == 0 {
		c.Realtime.PriorityThreshold = 5
	}
	if c.Realtime.BatchSize == 0 {
		c.Realtime.BatchSize = 10
	}
	if c.Realtime.BatchInterval == 0 {
		c.Realtime.BatchInterval = 30 * time.Second
	}
	if c.Realtime.StopTimeout == 0 {
		c.Realtime.StopTimeout = 10 * time.Second
	}
	if c.Realtime.MaxActiveClusters == 0 {
		c.Realtime.MaxActiveClusters = 100
	}
	if c.Realtime.RecentChunkBuffer == 0 {
		c.Realtime.RecentChunkBuffer = 500
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "command-r-08-2024"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 45 * time.Second
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.RetryDelay == 0 {
		c.LLM.RetryDelay = time.Second
	}

	if c.Store.ChromaPort == 0 {
		c.Store.ChromaPort = 8000
	}
	if c.Store.CollectionName == "" {
		c.Store.CollectionName = "newsmesh_chunks"
	}
	if c.Store.BloomKey == "" {
		c.Store.BloomKey = "newsmesh:bloom"
	}
	if c.Store.BloomTTL == 0 {
		c.Store.BloomTTL = 24 * time.Hour
	}
	if c.Store.ChunkTTL == 0 {
		c.Store.ChunkTTL = 24 * time.Hour
	}
	if c.Store.KafkaTopic == "" {
		c.Store.KafkaTopic = "newsmesh.jobs"
	}
	if c.Store.KafkaGroupID == "" {
		c.Store.KafkaGroupID = "newsmesh"
	}

	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(cohereKeyEnv); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv(redisPassEnv); v != "" {
		c.Store.RedisPassword = v
	}
	if v := os.Getenv(kafkaBrokersEnv); v != "" {
		c.Store.KafkaBrokers = splitCSV(v)
	}
	if v := os.Getenv(s3BucketEnv); v != "" {
		c.Store.S3Bucket = v
	}
	if v := os.Getenv(portEnv); v != "" {
		c.Server.Port = v
	}
}

// Validate fails fast on configuration defects. Invalid values are rejected,
// never silently clamped.
func (c *Config) Validate() error {
	sum := c.Scoring.RecencyWeight + c.Scoring.ReliabilityWeight + c.Scoring.RelevanceWeight
	if diff := sum - 1.0; diff > 1e-9 || diff < -1e-9 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %s", strconv.FormatFloat(sum, 'f', -1, 64))
	}

	thresholds := map[string]float64{
		"dedup.similarityThreshold":    c.Dedup.SimilarityThreshold,
		"dedup.titleRatioThreshold":    c.Dedup.TitleRatioThreshold,
		"dedup.fuzzyRatioThreshold":    c.Dedup.FuzzyRatioThreshold,
		"clustering.threshold":         c.Clustering.Threshold,
		"clustering.groupingThreshold": c.Clustering.GroupingThreshold,
		"clustering.coherenceFloor":    c.Clustering.CoherenceFloor,
		"scoring.maxTimeDecay":         c.Scoring.MaxTimeDecay,
		"scoring.sourceDiversityBonus": c.Scoring.SourceDiversityBonus,
	}
	for name, v := range thresholds {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must lie in [0,1], got %v", name, v)
		}
	}

	if c.Clustering.MinClusterSize < 2 {
		return fmt.Errorf("clustering.minClusterSize must be >= 2, got %d", c.Clustering.MinClusterSize)
	}
	if c.Clustering.MaxClusterSize < c.Clustering.MinClusterSize {
		return fmt.Errorf("clustering.maxClusterSize must be >= minClusterSize, got %d < %d",
			c.Clustering.MaxClusterSize, c.Clustering.MinClusterSize)
	}
	if c.Clustering.MaxIterations < 1 {
		return fmt.Errorf("clustering.maxIterations must be >= 1, got %d", c.Clustering.MaxIterations)
	}
	if c.Scoring.BreakingNewsBoost <= 1.0 {
		return fmt.Errorf("scoring.breakingNewsBoost must be > 1.0, got %v", c.Scoring.BreakingNewsBoost)
	}
	if c.Realtime.BatchSize < 1 {
		return fmt.Errorf("realtime.batchSize must be >= 1, got %d", c.Realtime.BatchSize)
	}
	if c.Realtime.Workers < 1 {
		return fmt.Errorf("realtime.workers must be >= 1, got %d", c.Realtime.Workers)
	}
	if c.Embedding.MaxRetries < 0 || c.LLM.MaxRetries < 0 {
		return fmt.Errorf("retry counts must be >= 0")
	}
	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("embedding.batchSize must be >= 1, got %d", c.Embedding.BatchSize)
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
