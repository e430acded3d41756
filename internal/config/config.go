package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"jlpt-exam-service/internal/domain"
	"jlpt-exam-service/internal/scoring"
)

type Config struct {
	Server struct {
		Port      string `yaml:"port" validate:"omitempty,numeric"`
		LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
		LogFormat string `yaml:"log_format" validate:"omitempty,oneof=json console"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url" validate:"omitempty,url"`
	} `yaml:"postgres"`
	Exam struct {
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"exam"`
	Session struct {
		LockTTL      string `yaml:"lock_ttl"`
		LockWait     string `yaml:"lock_wait"`
		ReapInterval string `yaml:"reap_interval"`
	} `yaml:"session"`
	Participants struct {
		PushInterval string `yaml:"push_interval"`
	} `yaml:"participants"`
	Scoring struct {
		Levels map[string]LevelConfig `yaml:"levels" validate:"dive"`
	} `yaml:"scoring"`
}

// LevelConfig overrides the pass ratio and section weights of one level.
// Weights are keyed by section name (GRAMMAR_VOCAB, READING, LISTENING).
type LevelConfig struct {
	PassRatio float64            `yaml:"pass_ratio" validate:"gte=0,lte=1"`
	Weights   map[string]float64 `yaml:"weights" validate:"dive,keys,oneof=GRAMMAR_VOCAB READING LISTENING,endkeys,gte=0,lte=1"`
}

var validate = validator.New()

// Load reads YAML config from path and validates it.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks struct tags and that every duration parses.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	durations := map[string]string{
		"exam.cache_ttl":             c.Exam.CacheTTL,
		"session.lock_ttl":           c.Session.LockTTL,
		"session.lock_wait":          c.Session.LockWait,
		"session.reap_interval":      c.Session.ReapInterval,
		"participants.push_interval": c.Participants.PushInterval,
	}
	for name, raw := range durations {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid config: %s: %w", name, err)
		}
	}
	return nil
}

// ScoringPolicy builds the level policy from defaults plus configured overrides.
func (c Config) ScoringPolicy() scoring.Policy {
	overrides := make(map[string]scoring.LevelPolicy, len(c.Scoring.Levels))
	for level, lc := range c.Scoring.Levels {
		lp := scoring.LevelPolicy{PassRatio: lc.PassRatio}
		if len(lc.Weights) > 0 {
			lp.Weights = make(map[domain.Section]float64, len(lc.Weights))
			for name, w := range lc.Weights {
				lp.Weights[domain.Section(strings.ToUpper(name))] = w
			}
		}
		overrides[level] = lp
	}
	return scoring.NewPolicy(overrides)
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
