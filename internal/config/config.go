// Package config loads the engine's single structured configuration
// document (spec §6): explorer, classifier, tracer, monitor, cache,
// store and server sections, each with documented defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ExplorerConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	MinRequestInterval time.Duration `mapstructure:"min_request_interval"`
	MaxInFlight       int           `mapstructure:"max_in_flight"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"`
}

type ClassifierConfig struct {
	ManyInputsThreshold    int       `mapstructure:"many_inputs_threshold"`
	ManyOutputsThreshold   int       `mapstructure:"many_outputs_threshold"`
	UniformityMaxDistinct  int       `mapstructure:"uniformity_max_distinct"`
	DiversityMinAddresses  int       `mapstructure:"diversity_min_addresses"`
	LargeTxMinTotal        int       `mapstructure:"large_tx_min_total"`
	PositiveScoreThreshold float64   `mapstructure:"positive_score_threshold"`
	WasabiDenominations    []int64   `mapstructure:"wasabi_denominations"` // satoshi
	WasabiMinOutputs       int       `mapstructure:"wasabi_min_outputs"`
	WhirlpoolDenominations []int64   `mapstructure:"whirlpool_denominations"` // satoshi
	MLModelPath            string    `mapstructure:"ml_model_path"`
	MLThreshold            float64   `mapstructure:"ml_threshold"`
}

type TracerConfig struct {
	MaxDepth                  int           `mapstructure:"max_depth"`
	MaxBranchesPerNode        int           `mapstructure:"max_branches_per_node"`
	MaxTotalNodes             int           `mapstructure:"max_total_nodes"`
	MaxWallClock              time.Duration `mapstructure:"max_wall_clock"`
	ConsecutiveNonCoinJoinCap int           `mapstructure:"consecutive_non_coinjoin_limit"`
	MaxOutputsPerTx           int           `mapstructure:"max_outputs_per_tx"`
	MaxTxsPerAddress          int           `mapstructure:"max_txs_per_address"`
	ExpansionWorkers          int           `mapstructure:"expansion_workers"` // B
}

type MonitorConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	WorkerPoolSize  int           `mapstructure:"worker_pool_size"` // W
	QueueCapacity   int           `mapstructure:"queue_capacity"`
	Autostart       bool          `mapstructure:"autostart"`
}

type CacheConfig struct {
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type StoreConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ServerConfig struct {
	BindHost                    string   `mapstructure:"bind_host"`
	BindPort                    int      `mapstructure:"bind_port"`
	AllowedOrigins              []string `mapstructure:"allowed_origins"`
	RateLimitPerMin             int      `mapstructure:"rate_limit_per_min"`
	RateLimitBurst              int      `mapstructure:"rate_limit_burst"`
	MaxConcurrentInvestigations int      `mapstructure:"max_concurrent_investigations"`
}

type Config struct {
	Explorer   ExplorerConfig   `mapstructure:"explorer"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Tracer     TracerConfig     `mapstructure:"tracer"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Store      StoreConfig      `mapstructure:"store"`
	Server     ServerConfig     `mapstructure:"server"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("explorer.base_url", "https://mempool.space/api")
	v.SetDefault("explorer.min_request_interval", "100ms")
	v.SetDefault("explorer.max_in_flight", 8)
	v.SetDefault("explorer.timeout", "10s")
	v.SetDefault("explorer.retry_attempts", 3)
	v.SetDefault("explorer.retry_base_delay", "200ms")

	v.SetDefault("classifier.many_inputs_threshold", 5)
	v.SetDefault("classifier.many_outputs_threshold", 5)
	v.SetDefault("classifier.uniformity_max_distinct", 3)
	v.SetDefault("classifier.diversity_min_addresses", 3)
	v.SetDefault("classifier.large_tx_min_total", 10)
	v.SetDefault("classifier.positive_score_threshold", 0.6)
	v.SetDefault("classifier.wasabi_denominations", []int64{10_000_000, 20_000_000, 50_000_000})
	v.SetDefault("classifier.wasabi_min_outputs", 5)
	v.SetDefault("classifier.whirlpool_denominations", []int64{100_000, 1_000_000, 5_000_000, 50_000_000})
	v.SetDefault("classifier.ml_model_path", "")
	v.SetDefault("classifier.ml_threshold", 0.7)

	v.SetDefault("tracer.max_depth", 10)
	v.SetDefault("tracer.max_branches_per_node", 4)
	v.SetDefault("tracer.max_total_nodes", 500)
	v.SetDefault("tracer.max_wall_clock", "30s")
	v.SetDefault("tracer.consecutive_non_coinjoin_limit", 5)
	v.SetDefault("tracer.max_outputs_per_tx", 50)
	v.SetDefault("tracer.max_txs_per_address", 25)
	v.SetDefault("tracer.expansion_workers", 4)

	v.SetDefault("monitor.tick_interval", "1s")
	v.SetDefault("monitor.worker_pool_size", 8)
	v.SetDefault("monitor.queue_capacity", 64)
	v.SetDefault("monitor.autostart", false)

	v.SetDefault("cache.capacity", 4096)
	v.SetDefault("cache.ttl", "10m")

	v.SetDefault("store.uri", "neo4j://localhost:7687")
	v.SetDefault("store.username", "neo4j")
	v.SetDefault("store.password", "")

	v.SetDefault("server.bind_host", "0.0.0.0")
	v.SetDefault("server.bind_port", 5339)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_min", 30)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("server.max_concurrent_investigations", 8)
}

// Load reads the configuration document from path (if non-empty and
// present) and applies COINJOIN_-prefixed environment overrides on top.
// Unknown top-level keys cause an error, per spec §9's "unknown options
// are rejected at load time."
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COINJOIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
