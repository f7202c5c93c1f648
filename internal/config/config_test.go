package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/derickschaefer/meterstat/internal/config"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

// chdir changes the working directory to dir for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) })
}

// writeFile writes name with body into dir.
func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// clearEnv blanks every variable config reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		config.EnvBucket, config.EnvRegion, config.EnvEndpoint, config.EnvAccessKey,
		config.EnvSecretKey, config.EnvPathStyle, config.EnvBackend, config.EnvDBPath,
		config.EnvPushgateway, config.EnvLogLevel, config.EnvTarget,
	} {
		t.Setenv(k, "")
	}
}

func s3Config() *config.Config {
	return &config.Config{
		Backend:    config.BackendS3,
		S3:         config.S3{Bucket: "b", Region: "r", AccessKeyID: "ak", SecretAccessKey: "sk"},
		AggMinutes: 5,
		LogLevel:   "info",
	}
}

// ─── Defaults ─────────────────────────────────────────────────────────────────

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != config.DefaultBackend {
		t.Errorf("Backend: expected %q, got %q", config.DefaultBackend, cfg.Backend)
	}
	if cfg.Format != config.DefaultFormat {
		t.Errorf("Format: expected %q, got %q", config.DefaultFormat, cfg.Format)
	}
	if cfg.Timeout != config.DefaultTimeout {
		t.Errorf("Timeout: expected %v, got %v", config.DefaultTimeout, cfg.Timeout)
	}
	if cfg.Rate != config.DefaultRate {
		t.Errorf("Rate: expected %g, got %g", config.DefaultRate, cfg.Rate)
	}
	if cfg.TargetColumn != "P_total" {
		t.Errorf("TargetColumn: expected P_total, got %q", cfg.TargetColumn)
	}
	if cfg.AggMinutes != 5 {
		t.Errorf("AggMinutes: expected 5, got %d", cfg.AggMinutes)
	}
	if cfg.DBPath == "" {
		t.Error("DBPath should have a default (home dir based) value")
	}
	if cfg.ConfigPath != "" || cfg.EnvPath != "" {
		t.Errorf("expected no config or env file, got %q %q", cfg.ConfigPath, cfg.EnvPath)
	}
}

// ─── Config file loading ──────────────────────────────────────────────────────

func TestLoadFromJSONFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, config.DefaultConfigFile, `{
  "backend": "bolt",
  "db_path": "/tmp/m.db",
  "target_column": "P_sum",
  "agg_minutes": 15,
  "default_format": "json",
  "timeout": "1m",
  "rate": 2.5,
  "s3": {"bucket": "meters", "path_style": true}
}`)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != "bolt" || cfg.DBPath != "/tmp/m.db" {
		t.Errorf("backend/db: got %q %q", cfg.Backend, cfg.DBPath)
	}
	if cfg.TargetColumn != "P_sum" || cfg.AggMinutes != 15 {
		t.Errorf("target/agg: got %q %d", cfg.TargetColumn, cfg.AggMinutes)
	}
	if cfg.Format != "json" || cfg.Timeout != time.Minute || cfg.Rate != 2.5 {
		t.Errorf("format/timeout/rate: got %q %v %g", cfg.Format, cfg.Timeout, cfg.Rate)
	}
	if cfg.S3.Bucket != "meters" || !cfg.S3.PathStyle {
		t.Errorf("s3: got %+v", cfg.S3)
	}
	if !strings.HasSuffix(cfg.ConfigPath, config.DefaultConfigFile) {
		t.Errorf("ConfigPath: got %q", cfg.ConfigPath)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, config.DefaultYAMLFile, "backend: bolt\nagg_minutes: 10\ns3:\n  region: eu-central-1\n")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != "bolt" || cfg.AggMinutes != 10 || cfg.S3.Region != "eu-central-1" {
		t.Errorf("got %+v", cfg)
	}
}

func TestLoadJSONPreferredOverYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, config.DefaultConfigFile, `{"target_column": "from_json"}`)
	writeFile(t, dir, config.DefaultYAMLFile, "target_column: from_yaml\n")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TargetColumn != "from_json" {
		t.Errorf("TargetColumn: expected from_json, got %q", cfg.TargetColumn)
	}
}

func TestLoadExplicitPath(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, t.TempDir())
	path := writeFile(t, dir, "custom.yml", "listen: \":9999\"\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9999" {
		t.Errorf("Listen: expected :9999, got %q", cfg.Listen)
	}

	if _, err := config.Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoadMalformedFileIsError(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, config.DefaultConfigFile, `{"backend": `)

	if _, err := config.Load(""); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadInvalidTimeoutIgnored(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, config.DefaultConfigFile, `{"timeout": "soon"}`)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timeout != config.DefaultTimeout {
		t.Errorf("Timeout: expected default, got %v", cfg.Timeout)
	}
}

// ─── Environment & .env ───────────────────────────────────────────────────────

func TestLoadDotenvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, config.DefaultConfigFile, `{"s3": {"bucket": "from-file"}}`)
	writeFile(t, dir, config.DefaultEnvFile, "S3_BUCKET=from-dotenv\nS3_PATH_STYLE=yes\n")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.S3.Bucket != "from-dotenv" {
		t.Errorf("Bucket: expected from-dotenv, got %q", cfg.S3.Bucket)
	}
	if !cfg.S3.PathStyle {
		t.Error("PathStyle: expected true from .env")
	}
	if cfg.EnvPath == "" {
		t.Error("EnvPath should be recorded")
	}
}

func TestLoadEnvOverridesDotenv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, config.DefaultEnvFile, "S3_BUCKET=from-dotenv\nMETERSTAT_BACKEND=bolt\n")
	t.Setenv(config.EnvBucket, "from-env")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.S3.Bucket != "from-env" {
		t.Errorf("Bucket: expected from-env, got %q", cfg.S3.Bucket)
	}
	if cfg.Backend != "bolt" {
		t.Errorf("Backend: expected bolt from .env, got %q", cfg.Backend)
	}
}

func TestLoadDotenvDoesNotLeakIntoProcess(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, config.DefaultEnvFile, "METERSTAT_PUSHGATEWAY=http://gw:9091\n")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pushgateway != "http://gw:9091" {
		t.Errorf("Pushgateway: got %q", cfg.Pushgateway)
	}
	if v := os.Getenv(config.EnvPushgateway); v != "" {
		t.Errorf("process env modified: %q", v)
	}
}

// ─── Validate ─────────────────────────────────────────────────────────────────

func TestValidateS3Complete(t *testing.T) {
	if err := s3Config().Validate(); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestValidateS3MissingCredentials(t *testing.T) {
	cfg := s3Config()
	cfg.S3.AccessKeyID = ""
	cfg.S3.SecretAccessKey = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{config.EnvAccessKey, config.EnvSecretKey, "--backend bolt"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
	if strings.Contains(err.Error(), config.EnvBucket+",") {
		t.Errorf("bucket is set and should not be listed: %v", err)
	}
}

func TestValidateBoltNeedsOnlyDB(t *testing.T) {
	cfg := &config.Config{Backend: config.BackendBolt, DBPath: "/tmp/x.db", AggMinutes: 5, LogLevel: "debug"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *config.Config){
		"backend":    func(c *config.Config) { c.Backend = "ftp" },
		"agg zero":   func(c *config.Config) { c.AggMinutes = 0 },
		"agg 7":      func(c *config.Config) { c.AggMinutes = 7 },
		"rate":       func(c *config.Config) { c.Rate = -1 },
		"log level":  func(c *config.Config) { c.LogLevel = "loud" },
	}
	for name, mutate := range cases {
		cfg := s3Config()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

// ─── Redaction ────────────────────────────────────────────────────────────────

func TestRedactedSecret(t *testing.T) {
	cfg := &config.Config{S3: config.S3{SecretAccessKey: "abcdef123456"}}
	got := cfg.RedactedSecret()
	if got != "ab****56" {
		t.Errorf("expected ab****56, got %q", got)
	}
	cfg.S3.SecretAccessKey = "abc"
	if got := cfg.RedactedSecret(); got != "****" {
		t.Errorf("short secret: expected ****, got %q", got)
	}
}

// ─── WriteFile / Template / Set ───────────────────────────────────────────────

func TestWriteFileRoundTripJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	f := config.Template()
	f.S3.Bucket = "meters"
	f.AggMinutes = 30

	for _, name := range []string{"m.json", "m.yaml"} {
		path := filepath.Join(dir, name)
		if err := config.WriteFile(path, f); err != nil {
			t.Fatalf("WriteFile %s: %v", name, err)
		}
		got, err := config.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile %s: %v", name, err)
		}
		if got.S3.Bucket != "meters" || got.AggMinutes != 30 || got.Timeout != "30s" {
			t.Errorf("%s: round trip mismatch: %+v", name, got)
		}
	}
}

func TestWriteFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.json")
	if err := config.WriteFile(path, config.Template()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected 0600, got %o", perm)
	}
}

func TestTemplateIsValidJSON(t *testing.T) {
	data, err := json.Marshal(config.Template())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["backend"] != "s3" || m["target_column"] != "P_total" {
		t.Errorf("unexpected template: %v", m)
	}
}

func TestFileSet(t *testing.T) {
	f := config.Template()
	for _, kv := range [][2]string{
		{"s3.bucket", "meters"},
		{"agg_minutes", "15"},
		{"rate", "3.5"},
		{"path_style", "on"},
		{"timeout", "2m"},
	} {
		if err := f.Set(kv[0], kv[1]); err != nil {
			t.Fatalf("Set %s: %v", kv[0], err)
		}
	}
	if f.S3.Bucket != "meters" || f.AggMinutes != 15 || f.Rate != 3.5 || !f.S3.PathStyle || f.Timeout != "2m" {
		t.Errorf("unexpected file: %+v", f)
	}
	if err := f.Set("agg_minutes", "five"); err == nil {
		t.Error("expected error for non-integer agg_minutes")
	}
	if err := f.Set("timeout", "soon"); err == nil {
		t.Error("expected error for bad timeout")
	}
	if err := f.Set("api_key", "x"); err == nil || !strings.Contains(err.Error(), "Valid keys") {
		t.Errorf("expected unknown-key error, got %v", err)
	}
}
