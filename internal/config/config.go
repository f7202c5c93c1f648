// Package config handles loading and resolving meterstat configuration.
// Resolution order (later layers win):
//  1. built-in defaults
//  2. meterstat.json or meterstat.yaml in the current working directory
//     (or the file named by --config)
//  3. a .env file in the current working directory
//  4. process environment variables
//  5. CLI flags, applied by the caller after Load
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile   = "meterstat.json"
	DefaultYAMLFile     = "meterstat.yaml"
	DefaultEnvFile      = ".env"
	DefaultBackend      = BackendS3
	DefaultFormat       = "table"
	DefaultTimeout      = 30 * time.Second
	DefaultRate         = 20.0
	DefaultRetries      = 4
	DefaultTargetColumn = "P_total"
	DefaultAggMinutes   = 5
	DefaultLogLevel     = "info"
	DefaultListen       = ":8080"

	BackendS3   = "s3"
	BackendBolt = "bolt"
)

// Environment variables.
const (
	EnvBucket      = "S3_BUCKET"
	EnvRegion      = "S3_REGION"
	EnvEndpoint    = "S3_ENDPOINT_URL"
	EnvAccessKey   = "S3_ACCESS_KEY_ID"
	EnvSecretKey   = "S3_SECRET_ACCESS_KEY"
	EnvPathStyle   = "S3_PATH_STYLE"
	EnvBackend     = "METERSTAT_BACKEND"
	EnvDBPath      = "METERSTAT_DB_PATH"
	EnvPushgateway = "METERSTAT_PUSHGATEWAY"
	EnvLogLevel    = "METERSTAT_LOG_LEVEL"
	EnvTarget      = "METERSTAT_TARGET_COLUMN"
)

// S3File is the "s3" section of the config file.
type S3File struct {
	Bucket          string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Region          string `json:"region,omitempty" yaml:"region,omitempty"`
	EndpointURL     string `json:"endpoint_url,omitempty" yaml:"endpoint_url,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
	PathStyle       bool   `json:"path_style,omitempty" yaml:"path_style,omitempty"`
}

// File is the on-disk representation of meterstat.json / meterstat.yaml.
type File struct {
	Backend      string  `json:"backend" yaml:"backend"`
	S3           S3File  `json:"s3" yaml:"s3"`
	DBPath       string  `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	TargetColumn string  `json:"target_column" yaml:"target_column"`
	AggMinutes   int     `json:"agg_minutes" yaml:"agg_minutes"`
	Format       string  `json:"default_format" yaml:"default_format"`
	Timeout      string  `json:"timeout" yaml:"timeout"`
	Rate         float64 `json:"rate" yaml:"rate"`
	Retries      int     `json:"retries" yaml:"retries"`
	LogLevel     string  `json:"log_level" yaml:"log_level"`
	Pushgateway  string  `json:"pushgateway,omitempty" yaml:"pushgateway,omitempty"`
	Listen       string  `json:"listen" yaml:"listen"`
}

// S3 holds resolved object-store connection settings.
type S3 struct {
	Bucket          string
	Region          string
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

// Config is the fully-resolved runtime configuration.
// All callers use this struct; the File is only read during loading.
type Config struct {
	Backend      string
	S3           S3
	DBPath       string
	TargetColumn string
	AggMinutes   int
	Format       string
	Timeout      time.Duration
	Rate         float64
	Retries      int
	LogLevel     string
	Pushgateway  string
	Listen       string

	ConfigPath string // path of the config file that was loaded (empty if none found)
	EnvPath    string // path of the .env file that was loaded (empty if none found)

	// Runtime overrides set from CLI flags after Load()
	Out   string
	Quiet bool
}

// Load resolves configuration from defaults, the config file, .env and the
// environment. explicitPath names a config file that must exist; empty
// means look for the default names in the working directory.
func Load(explicitPath string) (*Config, error) {
	cfg := &Config{
		Backend:      DefaultBackend,
		TargetColumn: DefaultTargetColumn,
		AggMinutes:   DefaultAggMinutes,
		Format:       DefaultFormat,
		Timeout:      DefaultTimeout,
		Rate:         DefaultRate,
		Retries:      DefaultRetries,
		LogLevel:     DefaultLogLevel,
		Listen:       DefaultListen,
	}

	// Layer 1: config file
	f, path, err := loadFile(explicitPath)
	if err != nil {
		return nil, err
	}
	if f != nil {
		applyFile(cfg, f, path)
	}

	// Layer 2: .env, then the real environment on top of it
	dotenv, envPath, err := loadDotenv()
	if err != nil {
		return nil, err
	}
	cfg.EnvPath = envPath
	applyEnv(cfg, func(key string) string {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v
		}
		return dotenv[key]
	})

	// Set default DB path if still unset
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DBPath = filepath.Join(home, ".meterstat", "meterstat.db")
		}
	}

	return cfg, nil
}

// Validate returns an error if the configuration cannot be used.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendS3:
		var missing []string
		if c.S3.Bucket == "" {
			missing = append(missing, EnvBucket)
		}
		if c.S3.Region == "" {
			missing = append(missing, EnvRegion)
		}
		if c.S3.AccessKeyID == "" {
			missing = append(missing, EnvAccessKey)
		}
		if c.S3.SecretAccessKey == "" {
			missing = append(missing, EnvSecretKey)
		}
		if len(missing) > 0 {
			return errors.New(
				"S3 backend is not configured; missing " + strings.Join(missing, ", ") + ".\n\n" +
					"Set them one of these ways:\n" +
					"  1. Environment:     export S3_BUCKET=... S3_REGION=... S3_ACCESS_KEY_ID=... S3_SECRET_ACCESS_KEY=...\n" +
					"  2. .env file:       S3_BUCKET=... in the working directory\n" +
					"  3. meterstat.json:  {\"s3\": {\"bucket\": \"...\", ...}}\n\n" +
					"Or use the local store:  meterstat --backend bolt ...",
			)
		}
	case BackendBolt:
		if c.DBPath == "" {
			return errors.New("bolt backend needs a database path (--db or METERSTAT_DB_PATH)")
		}
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendS3, BackendBolt)
	}
	if c.AggMinutes <= 0 || (24*60)%c.AggMinutes != 0 {
		return fmt.Errorf("agg_minutes %d must be a positive divisor of 1440", c.AggMinutes)
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// RedactedSecret returns the S3 secret with most characters replaced by
// asterisks. Safe for logging and display.
func (c *Config) RedactedSecret() string {
	s := c.S3.SecretAccessKey
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

// loadFile reads the config file. Without an explicit path a missing file
// is not an error and (nil, "", nil) is returned.
func loadFile(explicitPath string) (*File, string, error) {
	candidates := []string{DefaultConfigFile, DefaultYAMLFile}
	if explicitPath != "" {
		candidates = []string{explicitPath}
	}
	for _, name := range candidates {
		path, err := filepath.Abs(name)
		if err != nil {
			return nil, "", err
		}
		f, err := ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && explicitPath == "" {
				continue
			}
			return nil, "", err
		}
		return f, path, nil
	}
	return nil, "", nil
}

// ReadFile parses a JSON or YAML (by extension) config file.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	var f File
	if isYAML(path) {
		err = yaml.Unmarshal(data, &f)
	} else {
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return &f, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func loadDotenv() (map[string]string, string, error) {
	path, err := filepath.Abs(DefaultEnvFile)
	if err != nil {
		return nil, "", err
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, "", nil
		}
		return nil, "", fmt.Errorf("reading %s: %w", DefaultEnvFile, err)
	}
	return vals, path, nil
}

// applyFile copies values from a parsed File into cfg,
// skipping any fields that are zero/empty.
func applyFile(cfg *Config, f *File, path string) {
	cfg.ConfigPath = path
	if f.Backend != "" {
		cfg.Backend = f.Backend
	}
	if f.S3.Bucket != "" {
		cfg.S3.Bucket = f.S3.Bucket
	}
	if f.S3.Region != "" {
		cfg.S3.Region = f.S3.Region
	}
	if f.S3.EndpointURL != "" {
		cfg.S3.EndpointURL = f.S3.EndpointURL
	}
	if f.S3.AccessKeyID != "" {
		cfg.S3.AccessKeyID = f.S3.AccessKeyID
	}
	if f.S3.SecretAccessKey != "" {
		cfg.S3.SecretAccessKey = f.S3.SecretAccessKey
	}
	if f.S3.PathStyle {
		cfg.S3.PathStyle = true
	}
	if f.DBPath != "" {
		cfg.DBPath = f.DBPath
	}
	if f.TargetColumn != "" {
		cfg.TargetColumn = f.TargetColumn
	}
	if f.AggMinutes > 0 {
		cfg.AggMinutes = f.AggMinutes
	}
	if f.Format != "" {
		cfg.Format = f.Format
	}
	if f.Timeout != "" {
		if d, err := time.ParseDuration(f.Timeout); err == nil {
			cfg.Timeout = d
		}
	}
	if f.Rate > 0 {
		cfg.Rate = f.Rate
	}
	if f.Retries > 0 {
		cfg.Retries = f.Retries
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.Pushgateway != "" {
		cfg.Pushgateway = f.Pushgateway
	}
	if f.Listen != "" {
		cfg.Listen = f.Listen
	}
}

func applyEnv(cfg *Config, get func(string) string) {
	set := func(dst *string, key string) {
		if v := get(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.S3.Bucket, EnvBucket)
	set(&cfg.S3.Region, EnvRegion)
	set(&cfg.S3.EndpointURL, EnvEndpoint)
	set(&cfg.S3.AccessKeyID, EnvAccessKey)
	set(&cfg.S3.SecretAccessKey, EnvSecretKey)
	set(&cfg.Backend, EnvBackend)
	set(&cfg.DBPath, EnvDBPath)
	set(&cfg.Pushgateway, EnvPushgateway)
	set(&cfg.LogLevel, EnvLogLevel)
	set(&cfg.TargetColumn, EnvTarget)
	if v := get(EnvPathStyle); v != "" {
		cfg.S3.PathStyle = ParseBool(v)
	}
}

// ParseBool accepts 1/true/yes/y/on (any case) as true.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// Template returns a File populated with sensible defaults, suitable for
// writing an initial meterstat.json via `meterstat config init`.
func Template() File {
	return File{
		Backend:      DefaultBackend,
		S3:           S3File{Region: "us-east-1"},
		TargetColumn: DefaultTargetColumn,
		AggMinutes:   DefaultAggMinutes,
		Format:       DefaultFormat,
		Timeout:      DefaultTimeout.String(),
		Rate:         DefaultRate,
		Retries:      DefaultRetries,
		LogLevel:     DefaultLogLevel,
		Listen:       DefaultListen,
	}
}

// WriteFile serialises a File to the given path, as YAML when the path
// ends in .yaml or .yml and as JSON otherwise.
func WriteFile(path string, f File) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(f)
	} else {
		data, err = json.MarshalIndent(f, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Set assigns one key of f from its string form; used by `config set`.
func (f *File) Set(key, val string) error {
	switch strings.ToLower(key) {
	case "backend":
		f.Backend = val
	case "s3.bucket", "bucket":
		f.S3.Bucket = val
	case "s3.region", "region":
		f.S3.Region = val
	case "s3.endpoint_url", "endpoint_url":
		f.S3.EndpointURL = val
	case "s3.access_key_id", "access_key_id":
		f.S3.AccessKeyID = val
	case "s3.secret_access_key", "secret_access_key":
		f.S3.SecretAccessKey = val
	case "s3.path_style", "path_style":
		f.S3.PathStyle = ParseBool(val)
	case "db_path":
		f.DBPath = val
	case "target_column":
		f.TargetColumn = val
	case "agg_minutes":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("agg_minutes must be an integer")
		}
		f.AggMinutes = n
	case "default_format", "format":
		f.Format = val
	case "timeout":
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("timeout must be a duration such as 30s")
		}
		f.Timeout = val
	case "rate":
		r, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("rate must be a number")
		}
		f.Rate = r
	case "retries":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("retries must be an integer")
		}
		f.Retries = n
	case "log_level":
		f.LogLevel = val
	case "pushgateway":
		f.Pushgateway = val
	case "listen":
		f.Listen = val
	default:
		return fmt.Errorf("unknown config key: %q\n\nValid keys: %s", key, strings.Join(Keys, ", "))
	}
	return nil
}

// Keys lists the keys accepted by File.Set.
var Keys = []string{
	"backend", "s3.bucket", "s3.region", "s3.endpoint_url", "s3.access_key_id",
	"s3.secret_access_key", "s3.path_style", "db_path", "target_column",
	"agg_minutes", "default_format", "timeout", "rate", "retries", "log_level",
	"pushgateway", "listen",
}
