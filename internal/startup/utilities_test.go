package startup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fsminer/internal/memory"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_SET_VAR", "custom")
	if got := getEnv("TEST_SET_VAR", "default"); got != "custom" {
		t.Errorf("getEnv() = %q, want custom", got)
	}

	t.Setenv("TEST_EMPTY_VAR", "")
	if got := getEnv("TEST_EMPTY_VAR", "default"); got != "default" {
		t.Errorf("getEnv() on empty = %q, want default", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue bool
		want         bool
	}{
		{"unset uses default true", "", true, true},
		{"unset uses default false", "", false, false},
		{"true", "true", false, true},
		{"1", "1", false, true},
		{"false", "false", true, false},
		{"0", "0", true, false},
		{"invalid uses default", "maybe", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL_VAR", tt.value)
			if got := getEnvBool("TEST_BOOL_VAR", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT_VAR", "42")
	if got := getEnvInt("TEST_INT_VAR", 1); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	t.Setenv("TEST_INT_VAR", "forty")
	if got := getEnvInt("TEST_INT_VAR", 1); got != 1 {
		t.Errorf("getEnvInt() invalid = %d, want 1", got)
	}
}

func TestGetEnvFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT_VAR", "0.5")
	if got := getEnvFloat("TEST_FLOAT_VAR", 0); got != 0.5 {
		t.Errorf("getEnvFloat() = %v, want 0.5", got)
	}
	t.Setenv("TEST_FLOAT_VAR", "half")
	if got := getEnvFloat("TEST_FLOAT_VAR", 0.1); got != 0.1 {
		t.Errorf("getEnvFloat() invalid = %v, want 0.1", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Second},
		{"250ms", 250 * time.Millisecond},
		{"2m", 2 * time.Minute},
		{"soon", time.Second},
		{"-5s", time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_DURATION_VAR", tt.value)
			if got := getEnvDuration("TEST_DURATION_VAR", time.Second); got != tt.want {
				t.Errorf("getEnvDuration(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a, ,b ,c,")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("splitList() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitList()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if splitList("") != nil {
		t.Error("splitList(\"\") should be nil")
	}
}

func TestRedactDSN(t *testing.T) {
	tests := map[string]string{
		"":                                        "(none)",
		"postgres://miner:secret@db:5432/fsminer": "postgres://miner:****@db:5432/fsminer",
		"postgres://miner@db/fsminer":             "postgres://miner@db/fsminer",
		"host=db user=miner":                      "host=db user=miner",
	}
	for in, want := range tests {
		if got := redactDSN(in); got != want {
			t.Errorf("redactDSN(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	content := "FSMINER_TEST_FROM_FILE=loaded\nFSMINER_TEST_PRESET=fromfile\n"
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FSMINER_TEST_PRESET", "fromenv")
	t.Setenv("FSMINER_TEST_FROM_FILE", "")
	os.Unsetenv("FSMINER_TEST_FROM_FILE")

	if err := LoadEnvFiles(envFile, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnvFiles() error = %v", err)
	}
	if got := os.Getenv("FSMINER_TEST_FROM_FILE"); got != "loaded" {
		t.Errorf("FSMINER_TEST_FROM_FILE = %q, want loaded", got)
	}
	if got := os.Getenv("FSMINER_TEST_PRESET"); got != "fromenv" {
		t.Errorf("existing variable overridden: %q", got)
	}
}

func TestEnsureDirectory(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "nested", "db")

	if err := ensureDirectory(dir, "test"); err != nil {
		t.Fatalf("ensureDirectory() error = %v", err)
	}
	if err := ensureDirectory(dir, "test"); err != nil {
		t.Fatalf("ensureDirectory() second call error = %v", err)
	}

	file := filepath.Join(base, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ensureDirectory(file, "test"); err == nil {
		t.Error("expected error for regular file")
	}
}

func TestTestWriteAccess(t *testing.T) {
	dir := t.TempDir()
	if err := testWriteAccess(dir); err != nil {
		t.Fatalf("testWriteAccess() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".write-test")); !os.IsNotExist(err) {
		t.Error("write test file was not removed")
	}
	if err := testWriteAccess(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestCheckRoot(t *testing.T) {
	dir := t.TempDir()
	if err := checkRoot(dir); err != nil {
		t.Errorf("checkRoot(dir) error = %v", err)
	}
	if err := checkRoot(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing root")
	}
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := checkRoot(file); err == nil {
		t.Error("expected error for file root")
	}
}

func TestLogFunctionsDoNotPanic(t *testing.T) {
	LogMemoryConfig(memory.ConfigResult{Source: "none"})
	LogMemoryConfig(memory.ConfigResult{Configured: true, Source: memory.SourceGOMEMLIMIT, GoMemLimit: 1 << 30})
	LogMemoryConfig(memory.ConfigResult{Configured: true, Source: memory.SourceMemoryLimit, ContainerLimit: 1 << 30, GoMemLimit: 900 << 20, Ratio: 0.85})
	LogDatabaseInit("sqlite3", time.Millisecond)
	LogMinerInit(&Config{MaxWorkers: 2})
	LogMinerStarted()
	LogServerStarted(ServerConfig{ControlPort: "8080", MetricsPort: "9090", MetricsEnabled: true})
	LogServerStarted(ServerConfig{ControlPort: "8080"})
	LogShutdownInitiated("SIGTERM")
	LogShutdownStep("Stopping miner")
	LogShutdownStepComplete("Miner stopped")
	LogShutdownComplete()
}
