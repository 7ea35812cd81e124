package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Country scope and gazetteer.
	RawDataDir    string
	GazetteerFile string
	CountryName   string
	CountryISO3   []string
	HistoryStart  time.Time

	// Provider credentials. Empty values are allowed here; each adapter checks
	// its own before any network call.
	IDMCAPIKey       string
	ACLEDUsername    string
	ACLEDAPIKey      string
	IOMAPIKey        string
	ReliefWebAppName string

	// Provider client behaviour.
	SourceHTTPTimeout time.Duration
	SourceRateLimit   float64
	SourceConcurrency int
	RetryMaxAttempts  int
	RunInterval       time.Duration
	MatchCacheSize    int
	Sources           []string

	// Sinks. Both are optional.
	DatabaseURL    string
	KafkaBrokers   []string
	KafkaSinkTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	httpTimeout, err := parsePositiveDuration("SOURCE_HTTP_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	runInterval, err := parsePositiveDuration("RUN_INTERVAL", "6h")
	if err != nil {
		return nil, err
	}

	historyStart, err := time.Parse("2006-01-02", sharedcfg.EnvOrDefault("HISTORY_START_DATE", "2020-01-01"))
	if err != nil {
		return nil, errors.New("invalid HISTORY_START_DATE: want YYYY-MM-DD")
	}

	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("SOURCE_RATE_LIMIT", "2"), 64)
	if err != nil || rateLimit <= 0 {
		return nil, errors.New("invalid SOURCE_RATE_LIMIT: must be a positive number of requests per second")
	}

	concurrency, err := parsePositiveInt("SOURCE_CONCURRENCY", 2)
	if err != nil {
		return nil, err
	}
	attempts, err := parsePositiveInt("RETRY_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parsePositiveInt("MATCH_CACHE_SIZE", 5000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		RawDataDir:    sharedcfg.EnvOrDefault("RAW_DATA_DIR", "raw_data"),
		GazetteerFile: sharedcfg.EnvOrDefault("GAZETTEER_FILE", "gazetteer.yaml"),
		CountryName:   sharedcfg.EnvOrDefault("COUNTRY_NAME", "Sudan"),
		CountryISO3:   splitList(sharedcfg.EnvOrDefault("COUNTRY_ISO3", "SDN,AB9")),
		HistoryStart:  historyStart,

		IDMCAPIKey:       os.Getenv("IDMC_API_KEY"),
		ACLEDUsername:    os.Getenv("ACLED_USERNAME"),
		ACLEDAPIKey:      os.Getenv("ACLED_API_KEY"),
		IOMAPIKey:        os.Getenv("IOM_API_KEY"),
		ReliefWebAppName: sharedcfg.EnvOrDefault("RELIEFWEB_APPNAME", "nrc-ewas-sudan"),

		SourceHTTPTimeout: httpTimeout,
		SourceRateLimit:   rateLimit,
		SourceConcurrency: concurrency,
		RetryMaxAttempts:  attempts,
		RunInterval:       runInterval,
		MatchCacheSize:    cacheSize,
		Sources:           splitList(os.Getenv("SOURCES")),

		DatabaseURL:    os.Getenv("DATABASE_URL"),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "humanitarian-observations"),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}

	if strings.TrimSpace(cfg.CountryName) == "" {
		return nil, errors.New("COUNTRY_NAME is required")
	}
	if len(cfg.CountryISO3) == 0 {
		return nil, errors.New("COUNTRY_ISO3 is required")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_BROKERS is set but KAFKA_SINK_TOPIC is empty")
	}

	return cfg, nil
}

// PrimaryISO3 is the first configured country code, used for providers that
// accept a single country filter.
func (c *Config) PrimaryISO3() string {
	return c.CountryISO3[0]
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
