// Package ltpconfig is the YAML + environment-override configuration
// layer shared by every cmd/ entrypoint, structured the way the teacher's
// internal/config package is: one nested Config struct per concern,
// defaults applied first, a YAML file layered on top, then environment
// variables as the final override, all behind a sync.Once singleton.
package ltpconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// HarnessConfig controls harness.Run's defaults.
type HarnessConfig struct {
	DefaultTimeoutSeconds int    `yaml:"default_timeout_seconds"`
	TmpDirBase            string `yaml:"tmpdir_base"`
}

// ReadAllConfig controls a readall.Engine run when driven from
// cmd/ltp-readall.
type ReadAllConfig struct {
	Root             string   `yaml:"root"`
	Readers          int      `yaml:"readers"`
	TimeoutSeconds   int      `yaml:"timeout_seconds"`
	BlacklistGlobs   []string `yaml:"blacklist_globs"`
	Quiet            bool     `yaml:"quiet"`
}

// WorkerPoolConfig controls worker TTL and supervision cadence.
type WorkerPoolConfig struct {
	MaxTTLSeconds  int `yaml:"max_ttl_seconds"`
	EpollTimeoutMs int `yaml:"epoll_timeout_ms"`
}

// ResultServerConfig controls the optional HTTP/WebSocket result surface.
type ResultServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// ResultSinkConfig controls the optional Redis-backed multi-host result
// fan-out.
type ResultSinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	RedisURL string `yaml:"redis_url"`
	Channel  string `yaml:"channel"`
}

// Config is the process-wide configuration singleton.
type Config struct {
	Environment string             `yaml:"environment"`
	Harness     HarnessConfig      `yaml:"harness"`
	ReadAll     ReadAllConfig      `yaml:"readall"`
	WorkerPool  WorkerPoolConfig   `yaml:"workerpool"`
	ResultServer ResultServerConfig `yaml:"result_server"`
	ResultSink  ResultSinkConfig   `yaml:"result_sink"`
}

var (
	once     sync.Once
	instance *Config
)

// Get returns the process-wide Config, loading it from LTP_CONFIG_PATH (or
// applying defaults alone if unset) on first call.
func Get() *Config {
	once.Do(func() {
		path := os.Getenv("LTP_CONFIG_PATH")
		cfg, err := LoadConfig(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ltpconfig: %v, using defaults\n", err)
			cfg = defaultConfig()
		}
		instance = cfg
	})
	return instance
}

// LoadConfig reads .env (if present) then a YAML file at path (if path is
// non-empty; a path that cannot be read is an error), applies defaults for
// anything left zero, and finally layers environment-variable overrides on
// top.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ltpconfig: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("ltpconfig: parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Environment: "development",
		Harness: HarnessConfig{
			DefaultTimeoutSeconds: 300,
			TmpDirBase:            os.TempDir(),
		},
		ReadAll: ReadAllConfig{
			Root:           "/proc",
			Readers:        0,
			TimeoutSeconds: 30,
		},
		WorkerPool: WorkerPoolConfig{
			MaxTTLSeconds:  0,
			EpollTimeoutMs: 1000,
		},
		ResultServer: ResultServerConfig{
			Enabled: false,
			Addr:    ":8080",
		},
		ResultSink: ResultSinkConfig{
			Enabled:  false,
			RedisURL: "redis://localhost:6379/0",
			Channel:  "ltp:results",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := getEnv("LTP_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := getEnvInt("LTP_READALL_READERS"); v != 0 {
		cfg.ReadAll.Readers = v
	}
	if v := getEnv("LTP_READALL_ROOT"); v != "" {
		cfg.ReadAll.Root = v
	}
	if v := getEnv("LTP_READALL_BLACKLIST"); v != "" {
		cfg.ReadAll.BlacklistGlobs = splitCSV(v)
	}
	if v, ok := getEnvBool("LTP_READALL_QUIET"); ok {
		cfg.ReadAll.Quiet = v
	}
	if v := getEnvInt("LTP_WORKERPOOL_MAX_TTL_SECONDS"); v != 0 {
		cfg.WorkerPool.MaxTTLSeconds = v
	}
	if v, ok := getEnvBool("LTP_RESULT_SERVER_ENABLED"); ok {
		cfg.ResultServer.Enabled = v
	}
	if v := getEnv("LTP_RESULT_SERVER_ADDR"); v != "" {
		cfg.ResultServer.Addr = v
	}
	if v, ok := getEnvBool("LTP_RESULT_SINK_ENABLED"); ok {
		cfg.ResultSink.Enabled = v
	}
	if v := getEnv("LTP_RESULT_SINK_REDIS_URL"); v != "" {
		cfg.ResultSink.RedisURL = v
	}
}

// IsProduction reports whether the configured environment is "production".
func (c *Config) IsProduction() bool { return c.Environment == "production" }

func getEnv(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func getEnvInt(key string) int {
	v := getEnv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func getEnvBool(key string) (bool, bool) {
	v := getEnv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
