package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "magclaw "+version) {
		t.Errorf("output = %q", out)
	}
}

func TestConfigShow(t *testing.T) {
	t.Setenv("MAGCLAW_CONFIG", filepath.Join(t.TempDir(), "config.json"))
	out, err := execute(t, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"maxRounds": 20`) {
		t.Errorf("output = %q", out)
	}
}

func TestTraceEventsRequiresRun(t *testing.T) {
	if _, err := execute(t, "trace", "events", "--run", ""); err == nil {
		t.Fatal("expected error without a run id")
	}
}

func TestTraceEventsEmptyJournal(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MAGCLAW_CONFIG", filepath.Join(dir, "config.json"))
	t.Setenv("MAGCLAW_TRACE_DB_PATH", filepath.Join(dir, "trace.db"))

	out, err := execute(t, "trace", "events", "--run", "nope")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No events recorded.") {
		t.Errorf("output = %q", out)
	}
}
