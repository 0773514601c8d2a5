// Package config loads the code execution settings from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"capajail/internal/codejail/emsg"
	"capajail/internal/codejail/jail"
	"capajail/internal/codejail/limits"
	"capajail/internal/codejail/remote"
	"capajail/internal/codejail/resultcache"
	"capajail/internal/common/cache"
	"capajail/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

// Environment variables read after the YAML file.
const (
	EnvRestServiceEnabled = "ENABLE_CODEJAIL_REST_SERVICE"
	EnvRestServiceHost    = "CODE_JAIL_REST_SERVICE_HOST"
	EnvRestServiceRemote  = "CODE_JAIL_REST_SERVICE_REMOTE_EXEC"
	EnvRestServiceConnect = "CODE_JAIL_REST_SERVICE_CONNECT_TIMEOUT"
	EnvRestServiceRead    = "CODE_JAIL_REST_SERVICE_READ_TIMEOUT"
	EnvOAuthURL           = "CODE_JAIL_REST_SERVICE_OAUTH_URL"
	EnvOAuthClientID      = "CODE_JAIL_REST_SERVICE_OAUTH_CLIENT_ID"
	EnvOAuthClientSecret  = "CODE_JAIL_REST_SERVICE_OAUTH_CLIENT_SECRET"
	EnvDarklaunch         = "CODEJAIL_DARKLAUNCH"
	EnvDarklaunchCombine  = "CODEJAIL_DARKLAUNCH_EMSG_NORMALIZERS_COMBINE"
)

// Result cache backends.
const (
	CacheBackendNone   = "none"
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8550"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMemoryEntries   = 1024
	defaultCacheTTL        = 24 * time.Hour
)

// ServerConfig holds HTTP server settings of codejail-service.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// AuthConfig enables bearer-token checks when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`
}

// CodeJailConfig holds the local jail settings.
type CodeJailConfig struct {
	PythonBin      string                      `yaml:"pythonBin"`
	User           string                      `yaml:"user"`
	TmpRoot        string                      `yaml:"tmpRoot"`
	OutputMaxBytes int64                       `yaml:"outputMaxBytes"`
	Env            []string                    `yaml:"env"`
	InitPath       string                      `yaml:"initPath"`
	SeccompProfile string                      `yaml:"seccompProfile"`
	Limits         map[string]int64            `yaml:"limits"`
	LimitOverrides map[string]map[string]int64 `yaml:"limitOverrides"`
}

// RestServiceConfig holds the remote codejail service settings.
type RestServiceConfig struct {
	Enabled        bool               `yaml:"enabled"`
	RemoteExec     string             `yaml:"remoteExec"`
	Host           string             `yaml:"host"`
	ConnectTimeout time.Duration      `yaml:"connectTimeout"`
	ReadTimeout    time.Duration      `yaml:"readTimeout"`
	OAuth          remote.OAuthConfig `yaml:"oauth"`
}

// DarklaunchConfig holds shadow execution settings.
type DarklaunchConfig struct {
	Enabled                bool              `yaml:"enabled"`
	EmsgNormalizers        []emsg.RuleConfig `yaml:"emsgNormalizers"`
	EmsgNormalizersCombine string            `yaml:"emsgNormalizersCombine"`
}

// ResultCacheConfig selects and tunes the result cache.
type ResultCacheConfig struct {
	Backend           string        `yaml:"backend"`
	TTL               time.Duration `yaml:"ttl"`
	CompressThreshold int           `yaml:"compressThreshold"`
	MemoryMaxEntries  int           `yaml:"memoryMaxEntries"`
}

// Settings is the complete configuration surface.
type Settings struct {
	Server                ServerConfig      `yaml:"server"`
	Logger                logger.Config     `yaml:"logger"`
	Auth                  AuthConfig        `yaml:"auth"`
	CodeJail              CodeJailConfig    `yaml:"codeJail"`
	RestService           RestServiceConfig `yaml:"codeJailRestService"`
	Darklaunch            DarklaunchConfig  `yaml:"darklaunch"`
	CoursesWithUnsafeCode []string          `yaml:"coursesWithUnsafeCode"`
	ResultCache           ResultCacheConfig `yaml:"resultCache"`
	Redis                 cache.RedisConfig `yaml:"redis"`
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// Load reads path (optional), applies environment overrides from the process
// environment and fills defaults.
func Load(path string) (*Settings, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment.
func LoadWith(path string, lookup LookupFunc) (*Settings, error) {
	var s Settings
	if path != "" {
		if err := loadYAML(path, &s); err != nil {
			return nil, err
		}
	}
	if lookup != nil {
		if err := s.ApplyEnv(lookup); err != nil {
			return nil, err
		}
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ApplyEnv overrides the flat settings that hosts traditionally set through
// the environment. Timeouts are given in seconds.
func (s *Settings) ApplyEnv(lookup LookupFunc) error {
	if v, ok := lookup(EnvRestServiceEnabled); ok {
		b, err := parseBool(EnvRestServiceEnabled, v)
		if err != nil {
			return err
		}
		s.RestService.Enabled = b
	}
	if v, ok := lookup(EnvRestServiceHost); ok {
		s.RestService.Host = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvRestServiceRemote); ok {
		s.RestService.RemoteExec = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvRestServiceConnect); ok {
		d, err := parseSeconds(EnvRestServiceConnect, v)
		if err != nil {
			return err
		}
		s.RestService.ConnectTimeout = d
	}
	if v, ok := lookup(EnvRestServiceRead); ok {
		d, err := parseSeconds(EnvRestServiceRead, v)
		if err != nil {
			return err
		}
		s.RestService.ReadTimeout = d
	}
	if v, ok := lookup(EnvOAuthURL); ok {
		s.RestService.OAuth.URL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvOAuthClientID); ok {
		s.RestService.OAuth.ClientID = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvOAuthClientSecret); ok {
		s.RestService.OAuth.ClientSecret = v
	}
	if v, ok := lookup(EnvDarklaunch); ok {
		b, err := parseBool(EnvDarklaunch, v)
		if err != nil {
			return err
		}
		s.Darklaunch.Enabled = b
	}
	if v, ok := lookup(EnvDarklaunchCombine); ok {
		s.Darklaunch.EmsgNormalizersCombine = strings.TrimSpace(v)
	}
	return nil
}

func parseBool(name, raw string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", name, raw)
	}
	return b, nil
}

func parseSeconds(name, raw string) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%s: invalid number of seconds %q", name, raw)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// ApplyDefaults fills zero values.
func (s *Settings) ApplyDefaults() {
	applyServerDefaults(&s.Server)
	applyRestServiceDefaults(&s.RestService)
	applyResultCacheDefaults(&s.ResultCache)
	if s.Logger.Level == "" {
		s.Logger.Level = "info"
	}
	if s.Logger.Format == "" {
		s.Logger.Format = "json"
	}
	if s.ResultCache.Backend == CacheBackendRedis {
		s.Redis.ApplyDefaults()
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Addr == "" {
		cfg.Addr = defaultHTTPAddr
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
}

func applyRestServiceDefaults(cfg *RestServiceConfig) {
	if cfg.RemoteExec == "" {
		cfg.RemoteExec = remote.DefaultRemoteExec
	}
	rc := cfg.Remote()
	rc.ApplyDefaults()
	cfg.Host = rc.Host
	cfg.ConnectTimeout = rc.ConnectTimeout
	cfg.ReadTimeout = rc.ReadTimeout
}

func applyResultCacheDefaults(cfg *ResultCacheConfig) {
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == "" {
		cfg.Backend = CacheBackendNone
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultCacheTTL
	}
	if cfg.MemoryMaxEntries <= 0 {
		cfg.MemoryMaxEntries = defaultMemoryEntries
	}
}

// Validate checks values that have no sensible default.
func (s *Settings) Validate() error {
	if _, err := limits.ParseMap(s.CodeJail.Limits); err != nil {
		return fmt.Errorf("codeJail.limits: %w", err)
	}
	if s.CodeJail.SeccompProfile != "" && s.CodeJail.InitPath == "" {
		return fmt.Errorf("codeJail.seccompProfile requires codeJail.initPath")
	}
	for key, m := range s.CodeJail.LimitOverrides {
		if _, err := limits.ParseMap(m); err != nil {
			return fmt.Errorf("codeJail.limitOverrides[%s]: %w", key, err)
		}
	}
	switch s.ResultCache.Backend {
	case CacheBackendNone, CacheBackendMemory:
	case CacheBackendRedis:
		if s.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis result cache")
		}
	default:
		return fmt.Errorf("unknown result cache backend %q", s.ResultCache.Backend)
	}
	return nil
}

// Remote converts the service settings for the remote adapter.
func (r RestServiceConfig) Remote() remote.Config {
	return remote.Config{
		Host:           r.Host,
		ConnectTimeout: r.ConnectTimeout,
		ReadTimeout:    r.ReadTimeout,
		OAuth:          r.OAuth,
	}
}

// Jail converts the local jail settings.
func (c CodeJailConfig) Jail() jail.Config {
	return jail.Config{
		PythonBin:      c.PythonBin,
		User:           c.User,
		TmpRoot:        c.TmpRoot,
		OutputMaxBytes: c.OutputMaxBytes,
		Env:            c.Env,
		InitPath:       c.InitPath,
		SeccompProfile: c.SeccompProfile,
	}
}

// Normalizer converts the dark-launch normalizer settings. An unknown combine
// mode is passed through; the normalizer warns and falls back to its defaults.
func (d DarklaunchConfig) Normalizer() emsg.Config {
	combine, err := emsg.ParseCombine(d.EmsgNormalizersCombine)
	if err != nil {
		combine = emsg.Combine(d.EmsgNormalizersCombine)
	}
	return emsg.Config{Rules: d.EmsgNormalizers, Combine: combine}
}

// ResultCacheOptions converts the result cache tuning.
func (c ResultCacheConfig) Options() resultcache.Options {
	return resultcache.Options{TTL: c.TTL, CompressThreshold: c.CompressThreshold}
}
