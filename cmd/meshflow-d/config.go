package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/meshflow/pkg/engine"
	"github.com/rmax-ai/meshflow/pkg/registry"
)

const (
	defaultAddr            = "127.0.0.1:8090"
	defaultRegistryRefresh = time.Minute
	defaultRedisPrefix     = "meshflow"
)

// Registry source kinds.
const (
	RegistryNone   = "none"
	RegistryYAML   = "yaml"
	RegistrySQLite = "sqlite"
	RegistryRedis  = "redis"
)

type Config struct {
	Addr            string
	Input           string // JSONL packet file, "-" for stdin, empty for API only
	Follow          bool
	FromStart       bool
	RegistryKind    string
	RegistryTarget  string // file path or redis URL
	RedisPrefix     string
	EngineConfig    string
	SelfKey         string
	SelfName        string
	TickInterval    time.Duration
	RegistryRefresh time.Duration
	LogLevel        log.Level
	APIToken        string
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	addr := addrFromEnv(defaultAddr)
	tickInterval, err := durationFromEnv("MESHFLOW_TICK", engine.DefaultTickInterval)
	if err != nil {
		return Config{}, err
	}
	refresh, err := durationFromEnv("MESHFLOW_REGISTRY_REFRESH", defaultRegistryRefresh)
	if err != nil {
		return Config{}, err
	}
	follow := false
	if v := os.Getenv("MESHFLOW_FOLLOW"); v != "" {
		follow, err = strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MESHFLOW_FOLLOW: %w", err)
		}
	}

	flagSet := flag.NewFlagSet("meshflow-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagInput := flagSet.String("input", os.Getenv("MESHFLOW_INPUT"), "JSONL packet file, - for stdin")
	flagFollow := flagSet.Bool("follow", follow, "keep reading input as it grows")
	flagFromStart := flagSet.Bool("from-start", false, "with -follow, replay existing input first")
	flagRegistry := flagSet.String("registry", os.Getenv("MESHFLOW_REGISTRY"), "contacts source: <file.yaml>, sqlite:<path> or redis://...")
	flagRedisPrefix := flagSet.String("redis-prefix", envOrDefault("MESHFLOW_REDIS_PREFIX", defaultRedisPrefix), "key prefix of the redis contact store")
	flagConfig := flagSet.String("config", os.Getenv("MESHFLOW_CONFIG"), "engine options YAML")
	flagSelfKey := flagSet.String("self-key", os.Getenv("MESHFLOW_SELF_KEY"), "public key of the receiving node")
	flagSelfName := flagSet.String("self-name", os.Getenv("MESHFLOW_SELF_NAME"), "display name of the receiving node")
	flagTick := flagSet.String("tick", tickInterval.String(), "animation tick interval")
	flagRefresh := flagSet.String("registry-refresh", refresh.String(), "contact snapshot reload interval")
	flagLogLevel := flagSet.String("log-level", envOrDefault("MESHFLOW_LOG_LEVEL", "info"), "log level")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	tickParsed, err := time.ParseDuration(*flagTick)
	if err != nil {
		return Config{}, fmt.Errorf("invalid tick interval: %w", err)
	}
	if tickParsed <= 0 {
		return Config{}, errors.New("tick interval must be positive")
	}
	refreshParsed, err := time.ParseDuration(*flagRefresh)
	if err != nil {
		return Config{}, fmt.Errorf("invalid registry refresh: %w", err)
	}
	if refreshParsed <= 0 {
		return Config{}, errors.New("registry refresh must be positive")
	}
	level, err := log.ParseLevel(*flagLogLevel)
	if err != nil {
		return Config{}, fmt.Errorf("invalid log level: %w", err)
	}

	kind, target, err := parseRegistrySpec(*flagRegistry, cwd)
	if err != nil {
		return Config{}, err
	}

	config := Config{
		Addr:            strings.TrimSpace(*flagAddr),
		Input:           strings.TrimSpace(*flagInput),
		Follow:          *flagFollow,
		FromStart:       *flagFromStart,
		RegistryKind:    kind,
		RegistryTarget:  target,
		RedisPrefix:     strings.TrimSpace(*flagRedisPrefix),
		EngineConfig:    resolvePath(*flagConfig, cwd),
		SelfKey:         strings.TrimSpace(*flagSelfKey),
		SelfName:        strings.TrimSpace(*flagSelfName),
		TickInterval:    tickParsed,
		RegistryRefresh: refreshParsed,
		LogLevel:        level,
		APIToken:        os.Getenv("MESHFLOW_API_TOKEN"),
	}

	if config.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}
	if config.Input != "" && config.Input != "-" {
		config.Input = resolvePath(config.Input, cwd)
	}
	if config.Follow && (config.Input == "" || config.Input == "-") {
		return Config{}, errors.New("follow requires an input file")
	}

	return config, nil
}

// parseRegistrySpec splits a registry source spec into kind and target.
func parseRegistrySpec(spec, cwd string) (string, string, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "":
		return RegistryNone, "", nil
	case strings.HasPrefix(spec, "redis://"), strings.HasPrefix(spec, "rediss://"):
		return RegistryRedis, spec, nil
	case strings.HasPrefix(spec, "sqlite:"):
		path := strings.TrimPrefix(strings.TrimPrefix(spec, "sqlite:"), "//")
		if path == "" {
			return "", "", fmt.Errorf("%w: sqlite source needs a path", registry.ErrUnknownSource)
		}
		return RegistrySQLite, resolvePath(path, cwd), nil
	case strings.Contains(spec, "://"):
		return "", "", fmt.Errorf("%w: %s", registry.ErrUnknownSource, spec)
	default:
		return RegistryYAML, resolvePath(spec, cwd), nil
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return parsed, nil
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("MESHFLOW_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("MESHFLOW_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
