// Package config loads benchmark configuration from config files and
// CRMMEMBENCH_* environment variables via viper.
package config

import (
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds every recognized benchmark option.
type Config struct {
	// ContextSizes are the dilution targets, ascending.
	ContextSizes []int `mapstructure:"context_sizes"`
	// EvidenceItemThreads is the per-pool worker count.
	EvidenceItemThreads int `mapstructure:"evidence_item_threads"`
	// EvaluationStatsIntervalSeconds is the periodic reporter period.
	EvaluationStatsIntervalSeconds int `mapstructure:"evaluation_stats_interval_seconds"`

	UseCachedTestCases bool `mapstructure:"use_cached_test_cases"`
	OverwriteCache     bool `mapstructure:"overwrite_cache"`
	Debug              bool `mapstructure:"debug"`

	MainModel   string `mapstructure:"main_model"`
	HelperModel string `mapstructure:"helper_model"`
	JudgeModel  string `mapstructure:"judge_model"`

	MemorySystem string `mapstructure:"memory_system"`
	Mem0BaseURL  string `mapstructure:"mem0_base_url"`

	EvidenceDir      string `mapstructure:"evidence_dir"`
	ConversationsDir string `mapstructure:"conversations_dir"`
	CorpusDB         string `mapstructure:"corpus_db"`
	CacheDir         string `mapstructure:"cache_dir"`
	LogBaseDir       string `mapstructure:"log_base_dir"`
	CSVBaseDir       string `mapstructure:"csv_base_dir"`

	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	TracingSampler string  `mapstructure:"tracing_sampler"`
	TracingRatio   float64 `mapstructure:"tracing_ratio"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("context_sizes", []int{2, 10, 30, 50, 100, 300})
	v.SetDefault("evidence_item_threads", 20)
	v.SetDefault("evaluation_stats_interval_seconds", 30)
	v.SetDefault("use_cached_test_cases", true)
	v.SetDefault("overwrite_cache", false)
	v.SetDefault("debug", false)
	v.SetDefault("main_model", "claude-sonnet-4-5")
	v.SetDefault("judge_model", "claude-sonnet-4-5")
	v.SetDefault("memory_system", "long_context")
	v.SetDefault("mem0_base_url", "http://localhost:8000")
	v.SetDefault("evidence_dir", "data/evidence")
	v.SetDefault("conversations_dir", "data/conversations")
	v.SetDefault("cache_dir", "data/cache")
	v.SetDefault("log_base_dir", "logs/evaluations")
	v.SetDefault("csv_base_dir", "results")
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("tracing_sampler", "always")
	v.SetDefault("tracing_ratio", 0.1)
}

// Load reads config.yaml from the working directory when present, then
// applies CRMMEMBENCH_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "reading config file")
		}
	}

	// The cache toggles accept a wider set of spellings than viper's bool
	// parsing, so resolve them by hand before Unmarshal. CRMMEMBENCH_OVERWRITE_CACHE
	// in particular is exactly the env name AutomaticEnv binds to
	// overwrite_cache; an unresolved "yes" there would fail the whole load.
	// Set() outranks the env binding either way; an unparseable word pins
	// the current value so the default survives.
	for env, key := range map[string]string{
		"CRMMEMBENCH_USE_CACHE":       "use_cached_test_cases",
		"CRMMEMBENCH_OVERWRITE_CACHE": "overwrite_cache",
	} {
		raw, ok := os.LookupEnv(env)
		if !ok {
			continue
		}
		if parsed, ok := parseBoolWord(raw); ok {
			v.Set(key, parsed)
		} else {
			v.Set(key, v.GetBool(key))
		}
	}

	v.SetEnvPrefix("CRMMEMBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "parsing configuration")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects unusable values and normalizes context sizes to a sorted
// ascending list.
func (c *Config) validate() error {
	if len(c.ContextSizes) == 0 {
		return errors.New("context_sizes must not be empty")
	}
	for _, size := range c.ContextSizes {
		if size < 1 {
			return errors.Errorf("context size %d is not positive", size)
		}
	}
	sort.Ints(c.ContextSizes)
	if c.EvidenceItemThreads < 1 {
		return errors.Errorf("evidence_item_threads %d is not positive", c.EvidenceItemThreads)
	}
	if c.EvaluationStatsIntervalSeconds < 1 {
		return errors.Errorf("evaluation_stats_interval_seconds %d is not positive", c.EvaluationStatsIntervalSeconds)
	}
	return nil
}

// parseBoolWord accepts true|1|yes and false|0|no, case-insensitive.
func parseBoolWord(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	}
	return false, false
}
