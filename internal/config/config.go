package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Redis      RedisConfig      `json:"redis"`
	Postgres   PostgresConfig   `json:"postgres"`
	Policy     PolicyConfig     `json:"policy"`
	Quota      QuotaConfig      `json:"quota"`
	Cache      CacheConfig      `json:"cache"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Backends   []BackendConfig  `json:"backends"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (r *RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

type PostgresConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

func (p *PostgresConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

type PolicyConfig struct {
	RefreshSec int `json:"refresh_sec"`
}

func (p *PolicyConfig) RefreshInterval() time.Duration {
	if p.RefreshSec <= 0 {
		return time.Minute
	}
	return time.Duration(p.RefreshSec) * time.Second
}

type QuotaConfig struct {
	TimeZone          string `json:"timezone"`
	ReservationTTLSec int    `json:"reservation_ttl_sec"`
}

func (q *QuotaConfig) ReservationTTL() time.Duration {
	if q.ReservationTTLSec <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(q.ReservationTTLSec) * time.Second
}

// Location resolves the billing timezone; an unparseable zone falls back
// to UTC so period boundaries stay deterministic.
func (q *QuotaConfig) Location() *time.Location {
	if q.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(q.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type CacheConfig struct {
	ComputeTimeoutSec int `json:"compute_timeout_sec"`
	DefaultTTLSec     int `json:"default_ttl_sec"`
}

func (c *CacheConfig) ComputeTimeout() time.Duration {
	if c.ComputeTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ComputeTimeoutSec) * time.Second
}

type DispatcherConfig struct {
	Workers        int `json:"workers"`
	PollIntervalMs int `json:"poll_interval_ms"`
	ExecTimeoutSec int `json:"exec_timeout_sec"`
	MaxAttempts    int `json:"max_attempts"`
	BackoffBaseMs  int `json:"backoff_base_ms"`
	BackoffMaxSec  int `json:"backoff_max_sec"`
	RetentionHours int `json:"retention_hours"`
}

// One compute backend serving a task type
type BackendConfig struct {
	TaskType   string `json:"task_type"`
	Target     string `json:"target"`
	HealthPath string `json:"health_path"`
	TimeoutSec int    `json:"timeout_sec"`
}

// ProbeURL is the backend's health endpoint. Targets carry the task path
// (e.g. /run), so the health path replaces it rather than appending.
func (b *BackendConfig) ProbeURL() string {
	path := b.HealthPath
	if path == "" {
		path = "/health"
	}

	u, err := url.Parse(b.Target)
	if err != nil {
		return b.Target + path
	}

	u.Path = path
	u.RawQuery = ""
	return u.String()
}

func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	config.applyEnv()

	return &config, nil
}

// Env vars override file values for the secrets and deploy-specific knobs
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		c.Redis.Port = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		c.Postgres.Port = v
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		c.Postgres.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		c.Postgres.DBName = v
	}
}
