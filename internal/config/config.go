package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	JWTSecret   string
	CORSOrigins string

	DatabaseURL string
	RedisURL    string
	NATSURL     string

	StatsCacheTTL time.Duration

	// Sandbox settings. Backend selects between the Docker executor and
	// a remote Piston instance.
	SandboxBackend   string
	PistonURL        string
	DockerHost       string
	ExecutionTimeout time.Duration
	CodeRunMemoryMB  int
	CodeRunCPUShares int
	CodeRunWorkers   int

	OpenAIAPIKey string
}

// Sandbox backend selectors.
const (
	SandboxBackendDocker = "docker"
	SandboxBackendPiston = "piston"
	SandboxBackendNone   = "none"
)

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ASSESS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Assessment Grading API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("stats.cache_ttl", "5m")
	v.SetDefault("sandbox.backend", SandboxBackendDocker)
	v.SetDefault("execution_timeout_ms", 10000)
	v.SetDefault("code_run_memory_mb", 256)
	v.SetDefault("code_run_cpu_shares", 512)
	v.SetDefault("code_run_workers", 4)

	ttlString := v.GetString("stats.cache_ttl")
	if ttlString == "" {
		ttlString = "5m"
	}
	ttl, err := time.ParseDuration(ttlString)
	if err != nil {
		return Config{}, fmt.Errorf("invalid stats cache ttl: %w", err)
	}

	timeoutMs := v.GetInt("execution_timeout_ms")
	if timeoutMs <= 0 {
		timeoutMs = 10000
	}

	cfg := Config{
		AppName:          v.GetString("app.name"),
		AppEnv:           v.GetString("app.env"),
		AppPort:          v.GetString("app.port"),
		JWTSecret:        v.GetString("jwt.secret"),
		CORSOrigins:      v.GetString("cors.allow_origins"),
		DatabaseURL:      v.GetString("database.url"),
		RedisURL:         v.GetString("redis.url"),
		NATSURL:          v.GetString("nats.url"),
		StatsCacheTTL:    ttl,
		SandboxBackend:   strings.ToLower(v.GetString("sandbox.backend")),
		PistonURL:        v.GetString("piston.url"),
		DockerHost:       v.GetString("docker_host"),
		ExecutionTimeout: time.Duration(timeoutMs) * time.Millisecond,
		CodeRunMemoryMB:  v.GetInt("code_run_memory_mb"),
		CodeRunCPUShares: v.GetInt("code_run_cpu_shares"),
		CodeRunWorkers:   v.GetInt("code_run_workers"),
		OpenAIAPIKey:     v.GetString("openai_api_key"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.SandboxBackend == SandboxBackendPiston && cfg.PistonURL == "" {
		return Config{}, fmt.Errorf("piston url must be provided for the piston backend")
	}

	if cfg.CodeRunMemoryMB <= 0 {
		cfg.CodeRunMemoryMB = 256
	}
	if cfg.CodeRunCPUShares <= 0 {
		cfg.CodeRunCPUShares = 512
	}
	if cfg.CodeRunWorkers <= 0 {
		cfg.CodeRunWorkers = 4
	}

	return cfg, nil
}
