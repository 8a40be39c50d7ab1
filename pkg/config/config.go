// Package config loads service settings from defaults, an optional YAML file, environment
// variables and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	ShowVersion bool   `yaml:"-"`
	File        string `yaml:"-"`

	Domain         string        `yaml:"domain"`
	Port           int           `yaml:"port"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Ledger    LedgerConfig    `yaml:"ledger"`
	Journal   JournalConfig   `yaml:"journal"`
	Lock      LockConfig      `yaml:"lock"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LedgerConfig points at the node and the contract deployment.
type LedgerConfig struct {
	URL             string `yaml:"url"`
	ContractAddress string `yaml:"contract_address"`
	OwnerAddress    string `yaml:"owner_address"`
	PrivateKey      string `yaml:"private_key"`
	ChainID         int64  `yaml:"chain_id"`
	ReadRetries     int    `yaml:"read_retries"`
}

// JournalConfig selects the transaction journal store. Driver is none, sqlite or postgres.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LockConfig selects how distribute is serialized per batch. Mode is local, redis or none.
type LockConfig struct {
	Mode          string        `yaml:"mode"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// APIConfig tunes the HTTP surface.
type APIConfig struct {
	// AuthSecret enables HS256 bearer tokens on mutating routes when non-empty.
	AuthSecret string  `yaml:"auth_secret"`
	RateLimit  float64 `yaml:"rate_limit"`
	RateBurst  int     `yaml:"rate_burst"`
}

// TelemetryConfig enables OTLP export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"otlp_endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Insecure    bool    `yaml:"insecure"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:           5000,
		LogLevel:       "info",
		LogFormat:      "text",
		RequestTimeout: 2 * time.Minute,
		Ledger: LedgerConfig{
			URL:         "http://127.0.0.1:7545",
			ReadRetries: 2,
		},
		Journal: JournalConfig{Driver: "sqlite", DSN: "coffeechain-journal.db"},
		Lock:    LockConfig{Mode: "local", RedisAddr: "127.0.0.1:6379", TTL: 5 * time.Minute},
		API:     APIConfig{RateLimit: 20, RateBurst: 40},
		Telemetry: TelemetryConfig{
			ServiceName: "coffeechain",
			SampleRatio: 1,
			Insecure:    true,
		},
	}
}

// Load builds the configuration for args (without the program name). It returns flag.ErrHelp
// when -h is given.
func Load(args []string) (Config, error) {
	set, fv := newFlagSet()
	if err := set.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	cfg.File = fv.file
	if cfg.File == "" {
		cfg.File = os.Getenv("COFFEECHAIN_CONFIG")
	}
	if cfg.File != "" {
		if err := cfg.loadFile(cfg.File); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	set.Visit(func(f *flag.Flag) { fv.apply(f.Name, &cfg) })
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("BLOCKCHAIN_URL", &c.Ledger.URL)
	str("CONTRACT_ADDRESS", &c.Ledger.ContractAddress)
	str("OWNER_ADDRESS", &c.Ledger.OwnerAddress)
	str("OWNER_PRIVATE_KEY", &c.Ledger.PrivateKey)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("JOURNAL_DRIVER", &c.Journal.Driver)
	str("JOURNAL_DSN", &c.Journal.DSN)
	str("DISTRIBUTE_LOCK", &c.Lock.Mode)
	str("REDIS_ADDR", &c.Lock.RedisAddr)
	str("REDIS_PASSWORD", &c.Lock.RedisPassword)
	str("API_AUTH_SECRET", &c.API.AuthSecret)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	str("DOMAIN", &c.Domain)

	var errs []error
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PORT: %w", err))
		}
		c.Port = port
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHAIN_ID: %w", err))
		}
		c.Ledger.ChainID = id
	}
	if v := os.Getenv("READ_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("READ_RETRIES: %w", err))
		}
		c.Ledger.ReadRetries = n
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT: %w", err))
		}
		c.RequestTimeout = d
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Validate checks the settings needed to serve.
func (c Config) Validate() error {
	var errs []error
	if c.Domain == "" && (c.Port <= 0 || c.Port > 65535) {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if !oneOf(c.LogFormat, "text", "json") {
		errs = append(errs, fmt.Errorf("log format %q must be text or json", c.LogFormat))
	}
	if c.Ledger.URL == "" {
		errs = append(errs, errors.New("ledger url is required"))
	}
	if !common.IsHexAddress(c.Ledger.ContractAddress) {
		errs = append(errs, fmt.Errorf("contract address %q is not a hex address", c.Ledger.ContractAddress))
	}
	if c.Ledger.OwnerAddress != "" && !common.IsHexAddress(c.Ledger.OwnerAddress) {
		errs = append(errs, fmt.Errorf("owner address %q is not a hex address", c.Ledger.OwnerAddress))
	}
	if strings.TrimSpace(c.Ledger.PrivateKey) == "" {
		errs = append(errs, errors.New("owner private key is required"))
	}
	if c.Ledger.ReadRetries < 0 {
		errs = append(errs, errors.New("read retries must not be negative"))
	}
	if !oneOf(c.Journal.Driver, "none", "sqlite", "postgres") {
		errs = append(errs, fmt.Errorf("journal driver %q must be none, sqlite or postgres", c.Journal.Driver))
	}
	if c.Journal.Driver != "none" && c.Journal.DSN == "" {
		errs = append(errs, errors.New("journal dsn is required"))
	}
	if !oneOf(c.Lock.Mode, "local", "redis", "none") {
		errs = append(errs, fmt.Errorf("lock mode %q must be local, redis or none", c.Lock.Mode))
	}
	if c.Lock.Mode == "redis" && c.Lock.RedisAddr == "" {
		errs = append(errs, errors.New("redis address is required for the redis lock"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Address is the listen address for plain HTTP.
func (c Config) Address() string {
	return ":" + strconv.Itoa(c.Port)
}

type flagValues struct {
	showVersion bool
	file        string
	domain      string
	port        int
	logLevel    string
	logFormat   string
	rpcURL      string
	contract    string
	journal     string
	journalDSN  string
	lock        string
}

// newFlagSet uses a dedicated FlagSet so Load can be called from several entry points.
func newFlagSet() (*flag.FlagSet, *flagValues) {
	set := flag.NewFlagSet("coffeechain", flag.ContinueOnError)
	set.SetOutput(io.Discard)

	fv := &flagValues{}
	set.BoolVar(&fv.showVersion, "version", false, "Show the application version")
	set.StringVar(&fv.file, "config", "", "YAML configuration file")
	set.StringVar(&fv.domain, "domain", "", "Serve HTTPS on 443 with an HTTP redirect on 80 for this domain")
	set.IntVar(&fv.port, "port", 5000, "Port for the HTTP server when not using -domain")
	set.StringVar(&fv.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	set.StringVar(&fv.logFormat, "log-format", "text", "Log format: text or json")
	set.StringVar(&fv.rpcURL, "rpc-url", "", "Ledger node JSON-RPC endpoint")
	set.StringVar(&fv.contract, "contract", "", "Supply-chain contract address")
	set.StringVar(&fv.journal, "journal-driver", "", "Journal store: none, sqlite or postgres")
	set.StringVar(&fv.journalDSN, "journal-dsn", "", "Journal data source name")
	set.StringVar(&fv.lock, "distribute-lock", "", "Distribute lock: local, redis or none")
	return set, fv
}

func (fv *flagValues) apply(name string, c *Config) {
	switch name {
	case "version":
		c.ShowVersion = fv.showVersion
	case "domain":
		c.Domain = fv.domain
	case "port":
		c.Port = fv.port
	case "log-level":
		c.LogLevel = fv.logLevel
	case "log-format":
		c.LogFormat = fv.logFormat
	case "rpc-url":
		c.Ledger.URL = fv.rpcURL
	case "contract":
		c.Ledger.ContractAddress = fv.contract
	case "journal-driver":
		c.Journal.Driver = fv.journal
	case "journal-dsn":
		c.Journal.DSN = fv.journalDSN
	case "distribute-lock":
		c.Lock.Mode = fv.lock
	}
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
