package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the engine.
type Config struct {
	Port           string `env:"PORT" envDefault:"5200"`
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"economy.db"`
	GatewayToken   string `env:"GATEWAY_SECRET_TOKEN"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000"`
	AuthServiceURL string `env:"AUTH_SERVICE_URL"`

	// Empty means in-process locks.
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	LockTTL       time.Duration `env:"LOCK_TTL" envDefault:"30s"`

	Levels LevelConfig
	Risk   RiskConfig

	SubmitRate          float64 `env:"SUBMIT_RATE_PER_SECOND" envDefault:"0.2"`
	SubmitBurst         int     `env:"SUBMIT_BURST" envDefault:"3"`
	ProofReuseThreshold int     `env:"PROOF_REUSE_THRESHOLD" envDefault:"40"`

	GuardInterval     time.Duration `env:"GUARD_SWEEP_INTERVAL" envDefault:"15m"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1h"`

	R2 R2Config

	PlanSyncURL      string        `env:"PLAN_SYNC_URL"`
	PlanSyncPath     string        `env:"PLAN_SYNC_PATH" envDefault:"/api/v1/internal/subscriptions"`
	PlanSyncToken    string        `env:"PLAN_SYNC_TOKEN"`
	PlanSyncInterval time.Duration `env:"PLAN_SYNC_INTERVAL" envDefault:"5m"`

	CatalogPath string `env:"CATALOG_PATH"`
}

// LevelConfig drives the progression formula.
type LevelConfig struct {
	K          int64 `env:"LEVEL_K" envDefault:"1000"`
	Milestone  int   `env:"LEVEL_MILESTONE" envDefault:"5"`
	BonusCoins int64 `env:"LEVEL_MILESTONE_BONUS" envDefault:"250"`
}

// RiskConfig holds fraud scanner thresholds.
type RiskConfig struct {
	HighCoins      int64         `env:"RISK_HIGH_COINS" envDefault:"5000"`
	HighXP         int64         `env:"RISK_HIGH_XP" envDefault:"8000"`
	MediumCoins    int64         `env:"RISK_MEDIUM_COINS" envDefault:"1000"`
	MediumXP       int64         `env:"RISK_MEDIUM_XP" envDefault:"2000"`
	VelocityWindow time.Duration `env:"RISK_VELOCITY_WINDOW" envDefault:"1h"`
	VelocityCoins  int64         `env:"RISK_VELOCITY_COINS" envDefault:"20000"`
}

// R2Config is the Cloudflare R2 bucket used to archive photo proofs. Archiving is off when AccountID is empty.
type R2Config struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
	CDNBaseURL      string `env:"CDN_BASE_URL"`
}

// Enabled reports whether R2 credentials were supplied.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.Bucket != ""
}

// Load reads .env (if present) and parses the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Levels.K <= 0 {
		return fmt.Errorf("LEVEL_K must be positive, got %d", c.Levels.K)
	}
	if c.Levels.Milestone <= 0 {
		return fmt.Errorf("LEVEL_MILESTONE must be positive, got %d", c.Levels.Milestone)
	}
	if c.SubmitRate <= 0 || c.SubmitBurst <= 0 {
		return fmt.Errorf("submission rate and burst must be positive")
	}
	return nil
}

// Origins returns the trimmed, comma-joined CORS origin list.
func (c *Config) Origins() string {
	parts := strings.Split(c.AllowedOrigins, ",")
	for i, origin := range parts {
		parts[i] = strings.TrimSpace(origin)
	}
	return strings.Join(parts, ",")
}
