package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Xorboo/TeemoBot/internal/identity"
	"github.com/Xorboo/TeemoBot/internal/rank"
	"github.com/Xorboo/TeemoBot/internal/riot"
)

// Store backends
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken         string
	DiscordApplicationID string

	// Riot API
	RiotAPIKey       string
	RiotKeyPath      string // Key set at runtime with /riotkey, wins over RIOT_API_KEY
	VerificationSalt string
	DefaultRegion    string

	// Storage
	StoreBackend  string
	StatePath     string
	DatabasePath  string
	RedisAddr     string
	RedisDB       int
	RedisKey      string
	FlushInterval time.Duration

	// Sync
	SyncEnabled     bool
	SyncVerbose     bool
	CheckPause      time.Duration
	ChangePause     time.Duration
	FailureCooldown time.Duration
	PersistEvery    int

	// Rank policy, queues and API probe
	Rank *RankConfig

	// Status endpoint, disabled when empty
	StatusAddr string

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:         os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordApplicationID: os.Getenv("DISCORD_APPLICATION_ID"),
		RiotAPIKey:           os.Getenv("RIOT_API_KEY"),
		RiotKeyPath:          getEnvOrDefault("RIOT_KEY_PATH", "./data/riot_api_key.txt"),
		VerificationSalt:     os.Getenv("VERIFICATION_SALT"),
		DefaultRegion:        strings.ToLower(getEnvOrDefault("DEFAULT_REGION", "euw")),
		StoreBackend:         strings.ToLower(getEnvOrDefault("STORE_BACKEND", BackendFile)),
		StatePath:            getEnvOrDefault("STATE_PATH", "./data/users.json"),
		DatabasePath:         getEnvOrDefault("DATABASE_PATH", "./data/bot.db"),
		RedisAddr:            getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisKey:             getEnvOrDefault("REDIS_KEY", "teemobot:state"),
		StatusAddr:           os.Getenv("STATUS_ADDR"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.PersistEvery, err = getEnvInt("PERSIST_EVERY", 20); err != nil {
		return nil, err
	}
	if cfg.FlushInterval, err = getEnvDuration("FLUSH_INTERVAL_SECONDS", 30, time.Second); err != nil {
		return nil, err
	}
	if cfg.CheckPause, err = getEnvDuration("CHECK_PAUSE_MS", 1500, time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.ChangePause, err = getEnvDuration("CHANGE_PAUSE_MS", 5000, time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.FailureCooldown, err = getEnvDuration("FAILURE_COOLDOWN_SECONDS", 300, time.Second); err != nil {
		return nil, err
	}
	if cfg.SyncEnabled, err = getEnvBool("SYNC_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.SyncVerbose, err = getEnvBool("SYNC_VERBOSE", false); err != nil {
		return nil, err
	}

	saved, err := ReadRiotKey(cfg.RiotKeyPath)
	if err != nil {
		return nil, err
	}
	if saved != "" {
		cfg.RiotAPIKey = saved
	}

	cfg.Rank = DefaultRankConfig()
	if path := os.Getenv("RANK_CONFIG_PATH"); path != "" {
		if cfg.Rank, err = LoadRankConfig(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Salt reads only the verification salt, for tools that do not connect anywhere
func Salt() (string, error) {
	_ = godotenv.Load()

	salt := os.Getenv("VERIFICATION_SALT")
	if salt == "" {
		return "", fmt.Errorf("VERIFICATION_SALT is required")
	}
	return salt, nil
}

// ReadRiotKey returns the saved Riot API key, or "" when none was saved
func ReadRiotKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read Riot API key: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveRiotKey stores a Riot API key so it survives restarts
func SaveRiotKey(path, key string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to save Riot API key: %w", err)
	}
	return nil
}

// Validate checks required fields and enumerations
func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if c.RiotAPIKey == "" {
		return fmt.Errorf("RIOT_API_KEY is required")
	}
	if c.VerificationSalt == "" {
		return fmt.Errorf("VERIFICATION_SALT is required")
	}
	if !riot.HasRegion(c.DefaultRegion) {
		return fmt.Errorf("invalid DEFAULT_REGION %q, expected one of %s", c.DefaultRegion, strings.Join(riot.Regions(), ", "))
	}
	switch c.StoreBackend {
	case BackendFile, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}

// RankConfig is the optional YAML rank policy file
type RankConfig struct {
	SensitiveTiers []string   `yaml:"sensitive_tiers"`
	RollbackTier   string     `yaml:"rollback_tier"`
	RankedQueues   []string   `yaml:"ranked_queues"`
	Probe          *ProbeYAML `yaml:"probe"`
}

// ProbeYAML names a known-good account for API health checks
type ProbeYAML struct {
	Nickname string `yaml:"nickname"`
	Region   string `yaml:"region"`
}

// DefaultRankConfig gates diamond and above behind confirmation
func DefaultRankConfig() *RankConfig {
	return &RankConfig{
		SensitiveTiers: []string{"diamond", "master", "grandmaster", "challenger"},
		RollbackTier:   "bronze",
		RankedQueues:   append([]string(nil), identity.DefaultQueues...),
	}
}

// LoadRankConfig reads a rank policy file; missing keys keep their defaults
func LoadRankConfig(path string) (*RankConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rank config: %w", err)
	}
	return ParseRankConfig(data)
}

// ParseRankConfig decodes and validates a rank policy document
func ParseRankConfig(data []byte) (*RankConfig, error) {
	rc := DefaultRankConfig()
	if err := yaml.Unmarshal(data, rc); err != nil {
		return nil, fmt.Errorf("failed to parse rank config: %w", err)
	}
	if _, err := rc.Policy(); err != nil {
		return nil, err
	}
	if rc.Probe != nil && rc.Probe.Region != "" && !riot.HasRegion(rc.Probe.Region) {
		return nil, fmt.Errorf("invalid probe region %q", rc.Probe.Region)
	}
	return rc, nil
}

// Policy builds the sensitive-tier policy
func (rc *RankConfig) Policy() (*rank.Policy, error) {
	sensitive := make([]rank.Tier, 0, len(rc.SensitiveTiers))
	for _, name := range rc.SensitiveTiers {
		t, err := rank.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("invalid sensitive tier: %w", err)
		}
		sensitive = append(sensitive, t)
	}

	rollback, err := rank.Parse(rc.RollbackTier)
	if err != nil {
		return nil, fmt.Errorf("invalid rollback tier: %w", err)
	}
	return rank.NewPolicy(sensitive, rollback)
}

// ResolverProbe returns the probe account, or nil when none is configured
func (rc *RankConfig) ResolverProbe(defaultRegion string) *identity.Probe {
	if rc.Probe == nil || rc.Probe.Nickname == "" {
		return nil
	}
	region := rc.Probe.Region
	if region == "" {
		region = defaultRegion
	}
	return &identity.Probe{Nickname: rc.Probe.Nickname, Region: region}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue int, unit time.Duration) (time.Duration, error) {
	n, err := getEnvInt(key, defaultValue)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * unit, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
