package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/robertvazan/pmdata-sub001/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}

	err = os.WriteFile(path, []byte(content), 0o600)
	if err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func load(t *testing.T, input config.Input) config.Config {
	t.Helper()

	if input.Env == nil {
		input.Env = map[string]string{"HOME": t.TempDir()}
	}

	cfg, err := config.Load(input)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	return cfg
}

func Test_Load_Returns_Defaults_When_No_Files(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := load(t, config.Input{WorkDirOverride: dir})

	retryMax := 3
	want := config.Config{
		CacheDir:     ".depcache",
		Parallelism:  runtime.NumCPU(),
		LogLevel:     "info",
		Download:     config.Download{Timeout: config.Duration(30 * time.Second), RetryMax: &retryMax},
		EffectiveCwd: dir,
		CacheDirAbs:  filepath.Join(dir, ".depcache"),
	}

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func Test_Load_Merges_Layers_In_Precedence_Order(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xdg := t.TempDir()

	writeFile(t, filepath.Join(xdg, "depcache", "config.json"), `{
		// global defaults
		"cache_dir": "/var/cache/global",
		"parallelism": 2,
		"s3": {"region": "eu-west-1", "profile": "global"},
	}`)
	writeFile(t, filepath.Join(dir, ".depcache.json"), `{
		"parallelism": 8,
		"log_level": "debug",
		"download": {"timeout": "1m", "retry_max": 0},
		"s3": {"profile": "project"},
	}`)

	cfg := load(t, config.Input{
		WorkDirOverride:  dir,
		LogLevelOverride: "warn",
		Env:              map[string]string{"XDG_CONFIG_HOME": xdg},
	})

	retryMax := 0
	want := config.Config{
		CacheDir:    "/var/cache/global",
		Parallelism: 8,
		LogLevel:    "warn",
		Download:    config.Download{Timeout: config.Duration(time.Minute), RetryMax: &retryMax},
		S3:          config.S3{Region: "eu-west-1", Profile: "project"},
		CacheDirAbs: "/var/cache/global",
		Sources: config.Sources{
			Global:  filepath.Join(xdg, "depcache", "config.json"),
			Project: filepath.Join(dir, ".depcache.json"),
		},
	}

	if diff := cmp.Diff(want, cfg, cmpopts.IgnoreFields(config.Config{}, "EffectiveCwd")); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}

	if cfg.Level() != log.WarnLevel {
		t.Fatalf("Level() = %v, want warn", cfg.Level())
	}

	if cfg.RetryMaxOrDefault() != 0 {
		t.Fatalf("RetryMaxOrDefault() = %d, want explicit 0", cfg.RetryMaxOrDefault())
	}
}

func Test_Load_Applies_Cache_Dir_Override_When_Flag_Given(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".depcache.json"), `{"cache_dir": "from-file"}`)

	cfg := load(t, config.Input{WorkDirOverride: dir, CacheDirOverride: "from-flag"})

	if cfg.CacheDirAbs != filepath.Join(dir, "from-flag") {
		t.Fatalf("CacheDirAbs = %q", cfg.CacheDirAbs)
	}
}

func Test_Load_Reads_Explicit_Config_When_Path_Given(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".depcache.json"), `{"cache_dir": "ignored"}`)
	writeFile(t, filepath.Join(dir, "custom.json"), `{"cache_dir": "custom"}`)

	cfg := load(t, config.Input{WorkDirOverride: dir, ConfigPath: "custom.json"})

	if cfg.CacheDir != "custom" {
		t.Fatalf("CacheDir = %q, want custom", cfg.CacheDir)
	}

	if cfg.Sources.Project != filepath.Join(dir, "custom.json") {
		t.Fatalf("Sources.Project = %q", cfg.Sources.Project)
	}
}

func Test_Load_Fails_When_Config_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		input   config.Input
		wantErr error
		wantMsg string
	}{
		{name: "EmptyCacheDir", content: `{"cache_dir": ""}`, wantErr: config.ErrCacheDirEmpty},
		{name: "NegativeParallelism", content: `{"parallelism": -1}`, wantErr: config.ErrParallelism},
		{name: "UnknownLevel", content: `{"log_level": "loud"}`, wantErr: config.ErrLogLevel},
		{name: "UnknownLevelFlag", content: `{}`, input: config.Input{LogLevelOverride: "chatty"}, wantErr: config.ErrLogLevel},
		{name: "BadDuration", content: `{"download": {"timeout": "soon"}}`, wantErr: config.ErrConfigInvalid},
		{name: "NegativeTimeout", content: `{"download": {"timeout": "-1s"}}`, wantErr: config.ErrTimeout},
		{name: "NegativeRetry", content: `{"download": {"retry_max": -2}}`, wantErr: config.ErrRetryMax},
		{name: "BrokenJSONC", content: `{"cache_dir": `, wantErr: config.ErrConfigInvalid, wantMsg: "invalid JSONC"},
		{name: "MissingExplicit", content: `{}`, input: config.Input{ConfigPath: "nope.json"}, wantErr: config.ErrConfigFileNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, ".depcache.json"), tt.content)

			input := tt.input
			input.WorkDirOverride = dir
			input.Env = map[string]string{"HOME": t.TempDir()}

			_, err := config.Load(input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Load() error = %v, want %v", err, tt.wantErr)
			}

			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("Load() error = %v, want message containing %q", err, tt.wantMsg)
			}
		})
	}
}

func Test_Format_Writes_Durations_As_Strings(t *testing.T) {
	t.Parallel()

	out, err := config.Format(config.Default())
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{`"cache_dir": ".depcache"`, `"timeout": "30s"`, `"retry_max": 3`} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %s:\n%s", want, out)
		}
	}
}
