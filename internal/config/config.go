// Package config loads recoguard's configuration from an optional YAML file
// (with environment variable expansion) layered over environment-variable
// defaults, and can watch the file for live reloads.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Top-level config structs
// ---------------------------------------------------------------------------

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Admin         AdminConfig         `yaml:"admin"`
	Upstreams     UpstreamsConfig     `yaml:"upstreams"`
	RateLimit     *RateLimitConfig    `yaml:"rate_limit,omitempty"`
	TrendingCache TrendingCacheConfig `yaml:"trending_cache"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Addr                string `yaml:"addr"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

type AdminConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type UpstreamsConfig struct {
	UserProfile UpstreamConfig `yaml:"user_profile"`
	Content     UpstreamConfig `yaml:"content"`
	Trending    UpstreamConfig `yaml:"trending"`
}

// UpstreamConfig describes one of the three dependencies: where its
// replicas live, how to pick among them, and the breaker guarding it.
// Trending has no CircuitBreaker: it is called directly, uninterposed.
type UpstreamConfig struct {
	BaseURLs       []string              `yaml:"base_urls"`
	LBAlgorithm    string                `yaml:"lb_algorithm"` // round_robin | weighted | user_hash
	CallTimeout    string                `yaml:"call_timeout"`
	HealthPath     string                `yaml:"health_path"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
}

// CircuitBreakerConfig mirrors breaker.Config field-for-field, using
// duration strings in YAML the way the rest of the pack does.
type CircuitBreakerConfig struct {
	RequestTimeout              string  `yaml:"request_timeout"`
	WindowSize                  int     `yaml:"window_size"`
	FailureRateThreshold        float64 `yaml:"failure_rate_threshold"`
	ConsecutiveFailureThreshold int     `yaml:"consecutive_failure_threshold"`
	OpenStateDuration           string  `yaml:"open_state_duration"`
	HalfOpenMaxTrials           int     `yaml:"half_open_max_trials"`
}

type RateLimitConfig struct {
	Algorithm string `yaml:"algorithm"` // token_bucket | sliding_window
	Rate      int    `yaml:"rate"`
	Burst     int    `yaml:"burst"`
	Window    string `yaml:"window"`
	KeyBy     string `yaml:"key_by"` // ip | user | api_key
	RedisURL  string `yaml:"redis_url,omitempty"`
}

type TrendingCacheConfig struct {
	RedisURL string `yaml:"redis_url,omitempty"`
	TTL      string `yaml:"ttl"`
}

// ---------------------------------------------------------------------------
// Env-var-only defaults
// ---------------------------------------------------------------------------

func fromEnv() *Config {
	port := getenv("API_PORT", "8080")
	return &Config{
		Server: ServerConfig{Addr: ":" + port},
		Admin:  AdminConfig{Addr: ":" + getenv("ADMIN_PORT", "9090")},
		Upstreams: UpstreamsConfig{
			UserProfile: UpstreamConfig{BaseURLs: envURLs("USER_PROFILE_URL"), CallTimeout: "3s"},
			Content:     UpstreamConfig{BaseURLs: envURLs("CONTENT_URL"), CallTimeout: "3s"},
			Trending:    UpstreamConfig{BaseURLs: envURLs("TRENDING_URL"), CallTimeout: "5s"},
		},
	}
}

func envURLs(key string) []string {
	if v := os.Getenv(key); v != "" {
		return []string{v}
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ---------------------------------------------------------------------------
// Loader + file watcher
// ---------------------------------------------------------------------------

// Watcher emits a new Config each time the backing file changes on disk.
type Watcher struct {
	updates chan *Config
	done    chan struct{}
	once    sync.Once
	fsw     *fsnotify.Watcher
}

func (w *Watcher) Updates() <-chan *Config { return w.updates }

func (w *Watcher) Close() {
	w.once.Do(func() {
		close(w.done)
		if w.fsw != nil {
			w.fsw.Close()
		}
	})
}

// LoadAndWatch reads path if it exists (falling back to env-var-only
// defaults if it doesn't), and — only when a file was actually loaded —
// starts watching it for changes. The returned Watcher's channel is safe
// to range over even when no file is being watched; it is simply never
// sent to.
func LoadAndWatch(path string, log *zap.SugaredLogger) (*Config, *Watcher, error) {
	cfg, fromFile, err := load(path)
	if err != nil {
		return nil, nil, err
	}

	w := &Watcher{
		updates: make(chan *Config, 1),
		done:    make(chan struct{}),
	}

	if !fromFile {
		return cfg, w, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, nil, fmt.Errorf("watch config file: %w", err)
	}
	w.fsw = fsw

	go func() {
		var debounce <-chan time.Time
		for {
			select {
			case <-w.done:
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					debounce = time.After(200 * time.Millisecond)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Warnw("fsnotify error", "err", err)
			case <-debounce:
				debounce = nil
				newCfg, _, err := load(path)
				if err != nil {
					log.Warnw("config reload failed, keeping old config", "err", err)
					continue
				}
				select {
				case w.updates <- newCfg:
				default:
				}
			}
		}
	}()

	return cfg, w, nil
}

func load(path string) (*Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := fromEnv()
			validate(cfg)
			return cfg, false, nil
		}
		return nil, false, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, false, fmt.Errorf("parse config: %w", err)
	}

	validate(&cfg)
	return &cfg, true, nil
}

func validate(cfg *Config) {
	// ":" is what an "addr: ${PORT}" line expands to when the variable is unset.
	if cfg.Server.Addr == "" || cfg.Server.Addr == ":" {
		cfg.Server.Addr = ":" + getenv("API_PORT", "8080")
	}
	if cfg.Admin.Addr == "" || cfg.Admin.Addr == ":" {
		cfg.Admin.Addr = ":" + getenv("ADMIN_PORT", "9090")
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 30
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 30
	}

	fillUpstream(&cfg.Upstreams.UserProfile, "USER_PROFILE_URL", "3s")
	fillUpstream(&cfg.Upstreams.Content, "CONTENT_URL", "3s")
	fillUpstream(&cfg.Upstreams.Trending, "TRENDING_URL", "5s")
}

func fillUpstream(u *UpstreamConfig, envKey, defaultTimeout string) {
	if len(u.BaseURLs) == 0 {
		if v := os.Getenv(envKey); v != "" {
			u.BaseURLs = []string{v}
		}
	}
	if u.CallTimeout == "" {
		u.CallTimeout = defaultTimeout
	}
	if u.LBAlgorithm == "" {
		u.LBAlgorithm = "round_robin"
	}
	if u.HealthPath == "" {
		u.HealthPath = "/health"
	}
}

// ParseDurationOr parses s, returning def on empty string or parse error.
func ParseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// ParseIntOr parses s as an int, returning def on empty string or parse
// error.
func ParseIntOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
