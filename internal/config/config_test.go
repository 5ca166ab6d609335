package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoad_EmptyPath_ReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oifits.yaml")
	data := `
store:
  backend: s3
  compressor: zstd
  s3:
    bucket: vlti
    prefix: pionier
match:
  separation_arcsec: 2.5
  sta_conf: true
merge:
  parallelism: 4
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	want.Store.Backend = BackendS3
	want.Store.Compressor = "zstd"
	want.Store.S3 = S3Config{Bucket: "vlti", Prefix: "pionier"}
	want.Match = MatchConfig{SeparationArcsec: 2.5, StaConf: true}
	want.Merge.Parallelism = 4
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestLoad_Missing_ReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error")
	}
}

func TestLoad_Invalid_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"syntax":  "store: [",
		"backend": "store:\n  backend: ftp\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"unknown backend":      {func(c *Config) { c.Store.Backend = "ftp" }, "store.backend"},
		"s3 without bucket":    {func(c *Config) { c.Store.Backend = BackendS3 }, "store.s3.bucket"},
		"unknown compressor":   {func(c *Config) { c.Store.Compressor = "lz4" }, "store.compressor"},
		"negative separation":  {func(c *Config) { c.Match.SeparationArcsec = -1 }, "match.separation_arcsec"},
		"negative parallelism": {func(c *Config) { c.Merge.Parallelism = -2 }, "merge.parallelism"},
		"unknown level":        {func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "ftp"
	cfg.Merge.Parallelism = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected an error")
	}
	if msg := err.Error(); !strings.Contains(msg, "store.backend") || !strings.Contains(msg, "merge.parallelism") {
		t.Errorf("error = %q", msg)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":  slog.LevelDebug,
		"INFO":   slog.LevelInfo,
		" warn ": slog.LevelWarn,
		"error":  slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("unknown level accepted")
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	log.Info("dropped")
	log.Warn("kept", "file", "a.oifits")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "kept" || rec["file"] != "a.oifits" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	log, err := LogConfig{Level: "debug"}.NewLogger(&buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	log.Debug("scan", "tables", 3)
	if got := buf.String(); !strings.Contains(got, "msg=scan") || !strings.Contains(got, "tables=3") {
		t.Errorf("output = %q", got)
	}
	if _, err := (LogConfig{Level: "nope"}).NewLogger(&buf); err == nil {
		t.Error("unknown level accepted")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "oifits.yaml")
	cfg := Default()
	cfg.Store.Backend = BackendMemory
	cfg.Match.Exact = true
	cfg.Export.Compression = "gzip"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}
