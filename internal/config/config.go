package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           string
	APIKey         string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	AWSAccessKey   string
	AWSSecretKey   string
	SessionsTable  string
	CredsTable     string
	JobsTable      string
	ArtifactsTable string
	RedisURL       string
	NotifyQueueURL string
	PlatformName   string
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		APIKey:         getEnv("API_KEY", ""),
		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		AWSAccessKey:   getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		SessionsTable:  getEnv("SESSIONS_TABLE", "upload_sessions"),
		CredsTable:     getEnv("CREDENTIALS_TABLE", "platform_credentials"),
		JobsTable:      getEnv("JOBS_TABLE", "publish_jobs"),
		ArtifactsTable: getEnv("ARTIFACTS_TABLE", "artifacts"),
		RedisURL:       getEnv("REDIS_URL", ""),
		NotifyQueueURL: getEnv("NOTIFY_QUEUE_URL", ""),
		PlatformName:   getEnv("PLATFORM_NAME", "default"),
	}
}

// PlatformProfile holds per-platform tuning loaded from YAML. Durations
// are plain seconds in the file.
type PlatformProfile struct {
	TokenURL              string `yaml:"token_url"`
	SubmitURL             string `yaml:"submit_url"`
	StatusURL             string `yaml:"status_url"`
	ClientKey             string `yaml:"client_key"`
	ClientSecret          string `yaml:"client_secret"`
	RefreshBufferSeconds  int    `yaml:"refresh_buffer_seconds"`
	RefreshTokenTTLDays   int    `yaml:"refresh_token_ttl_days"`
	PollIntervalSeconds   int    `yaml:"poll_interval_seconds"`
	MaxPollAttempts       int    `yaml:"max_poll_attempts"`
	SessionTTLSeconds     int    `yaml:"session_ttl_seconds"`
	ArtifactURLTTLSeconds int    `yaml:"artifact_url_ttl_seconds"`
	MaxChunks             int    `yaml:"max_chunks"`
	ReconcileAfterSeconds int    `yaml:"reconcile_after_seconds"`
}

func (p *PlatformProfile) RefreshBuffer() time.Duration {
	return time.Duration(p.RefreshBufferSeconds) * time.Second
}

func (p *PlatformProfile) RefreshTokenTTL() time.Duration {
	return time.Duration(p.RefreshTokenTTLDays) * 24 * time.Hour
}

func (p *PlatformProfile) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds) * time.Second
}

func (p *PlatformProfile) SessionTTL() time.Duration {
	return time.Duration(p.SessionTTLSeconds) * time.Second
}

func (p *PlatformProfile) ArtifactURLTTL() time.Duration {
	return time.Duration(p.ArtifactURLTTLSeconds) * time.Second
}

func (p *PlatformProfile) ReconcileAfter() time.Duration {
	return time.Duration(p.ReconcileAfterSeconds) * time.Second
}

type PlatformConfig struct {
	Platforms map[string]PlatformProfile `yaml:"platforms"`
}

func LoadPlatformConfig() (*PlatformConfig, error) {
	configPath := getEnv("PLATFORM_CONFIG_PATH", "platform-config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read platform config: %w", err)
	}

	var config PlatformConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse platform config: %w", err)
	}

	return &config, nil
}

// GetProfile returns the named platform profile, falling back to the
// "default" entry and finally to hardcoded defaults.
func (pc *PlatformConfig) GetProfile(platform string) *PlatformProfile {
	if profile, exists := pc.Platforms[platform]; exists {
		return fillDefaults(&profile)
	}

	if defaultProfile, exists := pc.Platforms["default"]; exists {
		return fillDefaults(&defaultProfile)
	}

	return DefaultPlatformProfile()
}

func DefaultPlatformProfile() *PlatformProfile {
	return &PlatformProfile{
		RefreshBufferSeconds:  600,
		RefreshTokenTTLDays:   365,
		PollIntervalSeconds:   3,
		MaxPollAttempts:       10,
		SessionTTLSeconds:     86400,
		ArtifactURLTTLSeconds: 3600,
		MaxChunks:             10000,
		ReconcileAfterSeconds: 300,
	}
}

func fillDefaults(p *PlatformProfile) *PlatformProfile {
	def := DefaultPlatformProfile()
	if p.RefreshBufferSeconds <= 0 {
		p.RefreshBufferSeconds = def.RefreshBufferSeconds
	}
	if p.RefreshTokenTTLDays <= 0 {
		p.RefreshTokenTTLDays = def.RefreshTokenTTLDays
	}
	if p.PollIntervalSeconds <= 0 {
		p.PollIntervalSeconds = def.PollIntervalSeconds
	}
	if p.MaxPollAttempts <= 0 {
		p.MaxPollAttempts = def.MaxPollAttempts
	}
	if p.SessionTTLSeconds <= 0 {
		p.SessionTTLSeconds = def.SessionTTLSeconds
	}
	if p.ArtifactURLTTLSeconds <= 0 {
		p.ArtifactURLTTLSeconds = def.ArtifactURLTTLSeconds
	}
	if p.MaxChunks <= 0 {
		p.MaxChunks = def.MaxChunks
	}
	if p.ReconcileAfterSeconds <= 0 {
		p.ReconcileAfterSeconds = def.ReconcileAfterSeconds
	}
	return p
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
