// Package config loads the cache engine settings from a YAML file, an
// optional dotenv file and VIBEMUSIC_* environment variables, in that order
// of increasing precedence.
package config

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/HongKai-hskd/vibeMusic/cache"
	"github.com/HongKai-hskd/vibeMusic/env"
	"github.com/HongKai-hskd/vibeMusic/logger"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VIBEMUSIC_"

// Duration is a time.Duration that accepts day and week units ("1d", "2w3d")
// in addition to the standard Go syntax.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return str2duration.String(time.Duration(d)) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*d = parsed
	return nil
}

// ParseDuration parses s with day and week support. "0" is accepted.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "0" {
		return 0, nil
	}
	v, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", s)
	}
	return Duration(v), nil
}

type Config struct {
	Redis    RedisConfig    `yaml:"redis"`
	Cache    CacheConfig    `yaml:"cache"`
	Executor ExecutorConfig `yaml:"executor"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Log      LogConfig      `yaml:"log"`
}

type RedisConfig struct {
	// URL, when set, takes precedence over Addr, Password and DB.
	URL          Secret        `yaml:"url,omitempty"`
	Addr         string        `yaml:"addr"`
	Password     Secret        `yaml:"password,omitempty"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  Duration      `yaml:"dial_timeout"`
	ReadTimeout  Duration      `yaml:"read_timeout"`
	WriteTimeout Duration      `yaml:"write_timeout"`
	QueryTimeout Duration      `yaml:"query_timeout"`
	KeyPrefix    string        `yaml:"key_prefix,omitempty"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

// BreakerConfig controls the circuit breaker in front of Redis.
type BreakerConfig struct {
	Enabled          bool     `yaml:"enabled"`
	MaxFailures      int      `yaml:"max_failures"`
	Cooldown         Duration `yaml:"cooldown"`
	SuccessThreshold int      `yaml:"success_threshold"`
}

type CacheConfig struct {
	Codec           string   `yaml:"codec"`
	NullTTL         Duration `yaml:"null_ttl"`
	LockTTL         Duration `yaml:"lock_ttl"`
	LockPrefix      string   `yaml:"lock_prefix"`
	MutexBackoff    Duration `yaml:"mutex_backoff"`
	MutexMaxRetries int      `yaml:"mutex_max_retries"`
	SingleFlight    bool     `yaml:"singleflight"`
	TTLJitter       float64  `yaml:"ttl_jitter"`
	// LocalTTL enables an in-process tier in front of Redis when positive.
	// Evictions made by other replicas or by cachectl reach this process only
	// after LocalTTL, so leave it at zero unless that staleness is acceptable.
	LocalTTL Duration `yaml:"local_ttl"`
}

type ExecutorConfig struct {
	Workers         int      `yaml:"workers"`
	QueueSize       int      `yaml:"queue_size"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// CatalogConfig holds the per-namespace lifetimes and policies.
type CatalogConfig struct {
	SongTTL         Duration `yaml:"song_ttl"`
	SongListTTL     Duration `yaml:"song_list_ttl"`
	PlaylistTTL     Duration `yaml:"playlist_ttl"`
	ArtistTTL       Duration `yaml:"artist_ttl"`
	RecommendTTL    Duration `yaml:"recommend_ttl"`
	SongPolicy      string   `yaml:"song_policy"`
	PlaylistPolicy  string   `yaml:"playlist_policy"`
	ArtistPolicy    string   `yaml:"artist_policy"`
	Preload         bool     `yaml:"preload"`
	PreloadPageSize int      `yaml:"preload_page_size"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			DialTimeout:  Duration(5 * time.Second),
			ReadTimeout:  Duration(3 * time.Second),
			WriteTimeout: Duration(3 * time.Second),
			QueryTimeout: Duration(cache.DefaultQueryTimeout),
			Breaker: BreakerConfig{
				Enabled:          true,
				MaxFailures:      5,
				Cooldown:         Duration(10 * time.Second),
				SuccessThreshold: 1,
			},
		},
		Cache: CacheConfig{
			Codec:           cache.JSONCodec.Name(),
			NullTTL:         Duration(cache.DefaultNullTTL),
			LockTTL:         Duration(cache.DefaultLockTTL),
			LockPrefix:      cache.DefaultLockPrefix,
			MutexBackoff:    Duration(cache.DefaultMutexBackoff),
			MutexMaxRetries: cache.DefaultMutexMaxRetries,
			SingleFlight:    true,
		},
		Executor: ExecutorConfig{
			Workers:         cache.DefaultWorkers,
			QueueSize:       cache.DefaultQueueSize,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Catalog: CatalogConfig{
			SongTTL:         Duration(30 * time.Minute),
			SongListTTL:     Duration(30 * time.Minute),
			PlaylistTTL:     Duration(30 * time.Minute),
			ArtistTTL:       Duration(60 * time.Minute),
			RecommendTTL:    Duration(30 * time.Minute),
			SongPolicy:      cache.PolicyMutex.String(),
			PlaylistPolicy:  cache.PolicyPassThrough.String(),
			ArtistPolicy:    cache.PolicyPassThrough.String(),
			Preload:         true,
			PreloadPageSize: 20,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Load builds a Config from defaults, then the YAML file at path (if not
// empty), then envFile (if not empty; a missing file is ignored), then the
// process environment. The result is validated.
func Load(path string, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := cfg.Decode(buf); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	dotenv := map[string]string{}
	if envFile != "" {
		lines, err := env.ParseEnvFile(envFile)
		if err != nil {
			return nil, errors.Wrapf(err, "read env file %s", envFile)
		}
		dotenv = env.ToMap(lines)
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok && v != ""
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode merges YAML into c. Unknown fields are rejected.
func (c *Config) Decode(buf []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type override struct {
	name  string
	apply func(string) error
}

func (c *Config) overrides() []override {
	return []override{
		{"REDIS_URL", setSecret(&c.Redis.URL)},
		{"REDIS_ADDR", setString(&c.Redis.Addr)},
		{"REDIS_PASSWORD", setSecret(&c.Redis.Password)},
		{"REDIS_DB", setInt(&c.Redis.DB)},
		{"REDIS_POOL_SIZE", setInt(&c.Redis.PoolSize)},
		{"REDIS_QUERY_TIMEOUT", setDuration(&c.Redis.QueryTimeout)},
		{"REDIS_KEY_PREFIX", setString(&c.Redis.KeyPrefix)},
		{"REDIS_BREAKER_ENABLED", setBool(&c.Redis.Breaker.Enabled)},
		{"CACHE_CODEC", setString(&c.Cache.Codec)},
		{"CACHE_NULL_TTL", setDuration(&c.Cache.NullTTL)},
		{"CACHE_LOCK_TTL", setDuration(&c.Cache.LockTTL)},
		{"CACHE_LOCK_PREFIX", setString(&c.Cache.LockPrefix)},
		{"CACHE_MUTEX_BACKOFF", setDuration(&c.Cache.MutexBackoff)},
		{"CACHE_MUTEX_MAX_RETRIES", setInt(&c.Cache.MutexMaxRetries)},
		{"CACHE_TTL_JITTER", setFloat(&c.Cache.TTLJitter)},
		{"CACHE_LOCAL_TTL", setDuration(&c.Cache.LocalTTL)},
		{"EXECUTOR_WORKERS", setInt(&c.Executor.Workers)},
		{"EXECUTOR_QUEUE_SIZE", setInt(&c.Executor.QueueSize)},
		{"CATALOG_SONG_TTL", setDuration(&c.Catalog.SongTTL)},
		{"CATALOG_SONG_POLICY", setString(&c.Catalog.SongPolicy)},
		{"CATALOG_PRELOAD", setBool(&c.Catalog.Preload)},
		{"LOG_LEVEL", setString(&c.Log.Level)},
		{"LOG_FORMAT", setString(&c.Log.Format)},
		{"LOG_FILE", setString(&c.Log.File)},
	}
}

// ApplyEnv applies VIBEMUSIC_* overrides found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, o := range c.overrides() {
		name := EnvPrefix + o.name
		val, ok := lookup(name)
		if !ok {
			continue
		}
		if err := o.apply(strings.TrimSpace(val)); err != nil {
			return errors.Wrapf(err, "%s", name)
		}
	}
	return nil
}

func setString(p *string) func(string) error {
	return func(v string) error {
		*p = v
		return nil
	}
}

func setSecret(p *Secret) func(string) error {
	return func(v string) error {
		*p = Secret(v)
		return nil
	}
}

func setInt(p *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Newf("invalid integer %q", v)
		}
		*p = n
		return nil
	}
}

func setFloat(p *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Newf("invalid number %q", v)
		}
		*p = f
		return nil
	}
}

func setBool(p *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Newf("invalid boolean %q", v)
		}
		*p = b
		return nil
	}
}

func setDuration(p *Duration) func(string) error {
	return func(v string) error {
		d, err := ParseDuration(v)
		if err != nil {
			return err
		}
		*p = d
		return nil
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.Redis.URL != "" {
		if _, err := redis.ParseURL(c.Redis.URL.Text()); err != nil {
			return errors.Newf("invalid redis url %s", MaskURL(c.Redis.URL.Text()))
		}
	} else if c.Redis.Addr == "" {
		return errors.New("redis address cannot be empty")
	}
	if c.Redis.DB < 0 || c.Redis.DB > 15 {
		return errors.Newf("redis database must be between 0 and 15, got %d", c.Redis.DB)
	}
	if c.Redis.PoolSize <= 0 {
		return errors.Newf("redis pool size must be positive, got %d", c.Redis.PoolSize)
	}
	if c.Redis.QueryTimeout <= 0 {
		return errors.Newf("redis query timeout must be positive, got %s", c.Redis.QueryTimeout)
	}
	if c.Redis.Breaker.Enabled && c.Redis.Breaker.Cooldown <= 0 {
		return errors.Newf("breaker cooldown must be positive, got %s", c.Redis.Breaker.Cooldown)
	}
	if _, err := cache.CodecByName(c.Cache.Codec); err != nil {
		return err
	}
	if c.Cache.NullTTL <= 0 {
		return errors.Newf("null TTL must be positive, got %s", c.Cache.NullTTL)
	}
	if c.Cache.LockTTL <= 0 {
		return errors.Newf("lock TTL must be positive, got %s", c.Cache.LockTTL)
	}
	if c.Cache.LockPrefix == "" {
		return errors.New("lock prefix cannot be empty")
	}
	if c.Cache.MutexBackoff <= 0 {
		return errors.Newf("mutex backoff must be positive, got %s", c.Cache.MutexBackoff)
	}
	if c.Cache.MutexMaxRetries < 0 {
		return errors.Newf("mutex max retries cannot be negative, got %d", c.Cache.MutexMaxRetries)
	}
	if c.Cache.TTLJitter < 0 || c.Cache.TTLJitter > 1 {
		return errors.Newf("ttl jitter must be between 0 and 1, got %g", c.Cache.TTLJitter)
	}
	if c.Cache.LocalTTL < 0 {
		return errors.Newf("local TTL cannot be negative, got %s", c.Cache.LocalTTL)
	}
	if c.Executor.Workers <= 0 {
		return errors.Newf("executor workers must be positive, got %d", c.Executor.Workers)
	}
	if c.Executor.QueueSize < 0 {
		return errors.Newf("executor queue size cannot be negative, got %d", c.Executor.QueueSize)
	}
	for _, ns := range []struct {
		name string
		ttl  Duration
	}{
		{"song", c.Catalog.SongTTL},
		{"song list", c.Catalog.SongListTTL},
		{"playlist", c.Catalog.PlaylistTTL},
		{"artist", c.Catalog.ArtistTTL},
		{"recommend", c.Catalog.RecommendTTL},
	} {
		if ns.ttl <= 0 {
			return errors.Newf("%s TTL must be positive, got %s", ns.name, ns.ttl)
		}
	}
	for _, p := range []string{c.Catalog.SongPolicy, c.Catalog.PlaylistPolicy, c.Catalog.ArtistPolicy} {
		if _, err := cache.ParsePolicy(p); err != nil {
			return err
		}
	}
	if c.Catalog.PreloadPageSize <= 0 {
		return errors.Newf("preload page size must be positive, got %d", c.Catalog.PreloadPageSize)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return errors.Newf("log format must be console or json, got %q", c.Log.Format)
	}
	return nil
}
