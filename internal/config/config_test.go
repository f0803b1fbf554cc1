package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Dicklesworthstone/accord/internal/convergence"
)

// createTempConfig writes a TOML config file for the test.
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Engine != convergence.DefaultConfig() {
		t.Errorf("engine defaults = %+v", cfg.Engine)
	}
	if cfg.Storage.Backend != BackendFile {
		t.Errorf("storage backend = %q", cfg.Storage.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadNonExistent(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.toml"); err == nil {
		t.Error("expected error for non-existent config")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := createTempConfig(t, `
[engine]
max_rounds = 8
acceptance_threshold = 0.6
allow_forking = true
run_timeout = "2m"

[oracle]
endpoint = "http://localhost:9999/propose"
timeout = "15s"

[oracle.headers]
Authorization = "Bearer test"

[logging]
level = "debug"
format = "json"

[storage]
backend = "sqlite"
db_path = "/tmp/accord.db"

[[lexicon.costs]]
item = "karaoke"
group = "activity"
keywords = ["karaoke"]
min = 25
max = 40
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.MaxRounds != 8 || cfg.Engine.AcceptanceThreshold != 0.6 || !cfg.Engine.AllowForking {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.RunTimeout != 2*time.Minute {
		t.Errorf("run_timeout = %s, want 2m", cfg.Engine.RunTimeout)
	}
	// Unset keys keep their defaults.
	if cfg.Engine.MaxOptOuts != 1 || cfg.Engine.Patience != 2 {
		t.Errorf("defaults lost: %+v", cfg.Engine)
	}
	if cfg.Oracle.Endpoint != "http://localhost:9999/propose" || cfg.Oracle.Timeout != 15*time.Second {
		t.Errorf("oracle = %+v", cfg.Oracle)
	}
	if cfg.Oracle.Headers["Authorization"] != "Bearer test" {
		t.Errorf("headers = %v", cfg.Oracle.Headers)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Backend != BackendSQLite || cfg.Storage.DBPath != "/tmp/accord.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if len(cfg.Lexicon.Costs) != 1 || cfg.Lexicon.Costs[0].Item != "karaoke" {
		t.Fatalf("lexicon costs = %+v", cfg.Lexicon.Costs)
	}

	lex, err := cfg.BuildLexicon()
	if err != nil {
		t.Fatalf("BuildLexicon: %v", err)
	}
	matches := lex.Costs("karaoke night downtown")
	if len(matches) != 1 || matches[0].Entry.Min != 25 {
		t.Errorf("Costs = %+v", matches)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"zero rounds", "[engine]\nmax_rounds = 0\n", "max_rounds"},
		{"threshold above one", "[engine]\nacceptance_threshold = 1.5\n", "acceptance_threshold"},
		{"negative opt-outs", "[engine]\nmax_opt_outs = -1\n", "max_opt_outs"},
		{"bad backend", "[storage]\nbackend = \"s3\"\n", "backend"},
		{"bad log level", "[logging]\nlevel = \"chatty\"\n", "level"},
		{"bad token role", "[serve.tokens]\nsecret = \"root\"\n", "token role"},
		{"unknown key", "[engine]\nmax_round = 3\n", "unknown keys"},
		{"malformed toml", "[engine\n", "load config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(createTempConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ACCORD_MAX_ROUNDS", "3")
	t.Setenv("ACCORD_ACCEPTANCE_THRESHOLD", "0.5")
	t.Setenv("ACCORD_ALLOW_FORKING", "true")
	t.Setenv("ACCORD_RUN_TIMEOUT", "45s")
	t.Setenv("ACCORD_LOG_LEVEL", "warn")
	t.Setenv("ACCORD_DB_PATH", "/var/lib/accord.db")

	path := createTempConfig(t, "[engine]\nmax_rounds = 9\nmax_opt_outs = 2\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.MaxRounds != 3 {
		t.Errorf("env should override file: max_rounds = %d", cfg.Engine.MaxRounds)
	}
	if cfg.Engine.MaxOptOuts != 2 {
		t.Errorf("file value lost: max_opt_outs = %d", cfg.Engine.MaxOptOuts)
	}
	if cfg.Engine.AcceptanceThreshold != 0.5 || !cfg.Engine.AllowForking || cfg.Engine.RunTimeout != 45*time.Second {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Logging.Level != "warn" || cfg.Storage.DBPath != "/var/lib/accord.db" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestEnvOverrideInvalid(t *testing.T) {
	t.Setenv("ACCORD_MAX_ROUNDS", "many")
	if _, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected parse error for ACCORD_MAX_ROUNDS=many")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.EngineConfig() != convergence.DefaultConfig() {
		t.Errorf("engine = %+v", cfg.Engine)
	}
}

func TestDefaultPathHonorsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if got, want := DefaultPath(), filepath.Join(dir, "accord", "config.toml"); got != want {
		t.Errorf("DefaultPath() = %q, want %q", got, want)
	}
}

func TestLexiconFile(t *testing.T) {
	dir := t.TempDir()
	lexPath := filepath.Join(dir, "extra.yaml")
	lexYAML := `
synonyms:
  - canonical: sushi
    terms: [omakase, sashimi]
`
	if err := os.WriteFile(lexPath, []byte(lexYAML), 0o644); err != nil {
		t.Fatalf("write lexicon: %v", err)
	}
	cfgPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(cfgPath, []byte("[lexicon]\nfile = \"extra.yaml\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Lexicon.File != lexPath {
		t.Errorf("lexicon file = %q, want %q", cfg.Lexicon.File, lexPath)
	}
	lex, err := cfg.BuildLexicon()
	if err != nil {
		t.Fatalf("BuildLexicon: %v", err)
	}
	if !lex.Same("omakase", "sushi") {
		t.Error("synonym from lexicon file not applied")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Engine.MaxRounds = 7

	var buf bytes.Buffer
	if err := cfg.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	path := createTempConfig(t, buf.String())
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load encoded config: %v\n%s", err, buf.String())
	}
	if got.Engine != cfg.Engine {
		t.Errorf("engine = %+v, want %+v", got.Engine, cfg.Engine)
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~/runs"); got != filepath.Join(home, "runs") {
		t.Errorf("ExpandHome(~/runs) = %q", got)
	}
	if got := ExpandHome("/abs"); got != "/abs" {
		t.Errorf("ExpandHome(/abs) = %q", got)
	}
}
