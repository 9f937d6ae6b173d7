package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJSONToStderrAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "iirr.log")
	l := New(Options{File: path, MaxSizeMB: 1, Stderr: &buf})

	l.Sugar().Infow("water: pump started", "rate", 12.5)
	l.Sugar().Debugw("hidden at info level")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("stderr line is not JSON: %q (%v)", buf.String(), err)
	}
	if entry["msg"] != "water: pump started" || entry["rate"] != 12.5 {
		t.Errorf("entry: got %v", entry)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "water: pump started") {
		t.Errorf("file: got %q", data)
	}
	if strings.Contains(string(data), "hidden at info level") {
		t.Error("debug entry written at info level")
	}
}

func TestDebugConsole(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Debug: true, Stderr: &buf})
	l.Sugar().Debugw("cloud: probe", "id", "abc")
	l.Close()

	out := buf.String()
	if !strings.Contains(out, "DEBUG") || !strings.Contains(out, "cloud: probe") {
		t.Errorf("console output: got %q", out)
	}
}

func TestStdLogRedirected(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Stderr: &buf})
	log.Print("from the standard library")
	l.Close()

	if !strings.Contains(buf.String(), "from the standard library") {
		t.Errorf("std log not redirected: %q", buf.String())
	}
}

func TestAccessLogWriter(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Stderr: &buf})
	fmt.Fprintln(l.AccessLog(), `127.0.0.1 - - "GET /index.json HTTP/1.1" 200 42`)
	l.Close()

	if !strings.Contains(buf.String(), `"logger":"http"`) || !strings.Contains(buf.String(), "GET /index.json") {
		t.Errorf("access log: got %q", buf.String())
	}
}
