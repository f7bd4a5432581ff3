package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shipproto/ship-go/pkg/log"
)

func TestDispatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.shiplog")
	fl, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	fl.Close()

	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStderr string
	}{
		{"no args", nil, 1, "Commands:"},
		{"help", []string{"help"}, 0, ""},
		{"unknown", []string{"replay"}, 1, "Unknown command: replay"},
		{"missing path", []string{"stats"}, 1, "exactly one log file path"},
		{"bad layer", []string{"view", "-layer", "wire", path}, 1, "invalid layer"},
		{"filter needs output", []string{"filter", path}, 1, "-o) required"},
		{"missing file", []string{"stats", path + ".missing"}, 1, "failed to open log file"},
		{"view empty capture", []string{"view", "-layer", "mode-init", path}, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := dispatch(tt.args, &stdout, &stderr)
			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d (stderr: %s)", code, tt.wantCode, stderr.String())
			}
			if !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Errorf("stderr = %q, want it to contain %q", stderr.String(), tt.wantStderr)
			}
		})
	}
}
