package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/luciancaetano/vmhttp/internal/diag"
	"github.com/luciancaetano/vmhttp/internal/version"
)

// runCLI executes the root command. Commands share package-level flag
// variables, so these tests do not run in parallel.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		colorMode, versionFormat = "auto", "pretty"
		serveConfigPath, servePort, serveAddress = "", 0, ""
	})
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatalf("WriteFile() = %v", err)
	}
	return path
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	good := writeScript(t, dir, "good.js", "var x = 1 + 1;\nx")
	bad := writeScript(t, dir, "bad.js", "function (")

	out, err := runCLI(t, "check", "--color", "off", good, bad)
	if err == nil || !strings.Contains(err.Error(), "1 of 2 files failed") {
		t.Errorf("check error = %v, want 1 of 2 failed", err)
	}
	if !strings.Contains(out, "ok   "+good) {
		t.Errorf("output does not report %s as ok:\n%s", good, out)
	}
	if !strings.Contains(out, "FAIL "+bad) || !strings.Contains(out, "errJSException") {
		t.Errorf("output does not report %s as failed:\n%s", bad, out)
	}
	if strings.Index(out, good) > strings.Index(out, bad) {
		t.Errorf("results are out of argument order:\n%s", out)
	}
}

func TestCheckMissingFile(t *testing.T) {
	out, err := runCLI(t, "check", "--color", "off", filepath.Join(t.TempDir(), "absent.js"))
	if err == nil {
		t.Fatal("check of a missing file = nil error")
	}
	if !strings.Contains(out, "errFileNotFound") {
		t.Errorf("output = %q, want errFileNotFound", out)
	}
}

func TestCheckRequiresArgs(t *testing.T) {
	if _, err := runCLI(t, "check"); err == nil {
		t.Error("check without files = nil error")
	}
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version", "--color", "off", "--format", "pretty")
	if err != nil {
		t.Fatalf("version = %v", err)
	}
	if !strings.HasPrefix(out, "vmhttp "+version.Current().Version) {
		t.Errorf("version output = %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("version output = %q, want no escape codes", out)
	}

	out, err = runCLI(t, "version", "--format", "json")
	if err != nil {
		t.Fatalf("version --format json = %v", err)
	}
	var info version.Info
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("json.Unmarshal(%s) = %v", out, err)
	}
	if info.Tool != "vmhttp" {
		t.Errorf("Tool = %q, want vmhttp", info.Tool)
	}

	if _, err := runCLI(t, "version", "--format", "yaml"); err == nil {
		t.Error("version --format yaml = nil error")
	}
}

func TestServeRejectsInvalidPort(t *testing.T) {
	_, err := runCLI(t, "serve", "--port", "0")
	if err == nil || !strings.Contains(err.Error(), "server.port") {
		t.Errorf("serve --port 0 error = %v", err)
	}
}

func TestServeRejectsMissingConfig(t *testing.T) {
	_, err := runCLI(t, "serve", "--config", filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil {
		t.Error("serve with a missing config = nil error")
	}
}

func TestWatchQuit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{"q\n", true},
		{"hello\n Q \n", true},
		{"quit\n", false},
		{"", false},
	}

	for _, tt := range tests {
		stopped := false
		watchQuit(strings.NewReader(tt.input), func() { stopped = true })
		if stopped != tt.want {
			t.Errorf("watchQuit(%q) stopped = %v, want %v", tt.input, stopped, tt.want)
		}
	}
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	red := color.New(color.FgRed)
	red.DisableColor()

	var buf bytes.Buffer
	derr := diag.Newf(diag.ErrAccessDenied, "not yours")
	writeError(&buf, red, fmt.Errorf("start: %w", derr))
	out := buf.String()
	if !strings.HasPrefix(out, "error: "+diag.ErrAccessDenied.Description()+" (errAccessDenied)") {
		t.Errorf("writeError() = %q", out)
	}
	if !strings.Contains(out, "not yours") {
		t.Errorf("writeError() = %q, want the trail", out)
	}

	buf.Reset()
	writeError(&buf, red, fmt.Errorf("plain failure"))
	if buf.String() != "error: plain failure\n" {
		t.Errorf("writeError() = %q", buf.String())
	}
}
