package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestCustomOutputForApplicationLog(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{ApplicationLogOutput: &buf})
	msg := "Hello, world!"
	log.Infof("%s", msg)
	if !strings.Contains(buf.String(), msg) {
		t.Error("failed to use custom output")
	}
}

func TestCustomPrefixForApplicationLog(t *testing.T) {
	var buf bytes.Buffer
	prefix := "[TEST_PREFIX]"
	Init(Options{
		ApplicationLogOutput: &buf,
		ApplicationLogPrefix: prefix})
	log.Infof("Hello, world!")
	got := buf.String()
	if !strings.HasPrefix(got, "[TEST_PREFIX]") || !strings.Contains(got, "Hello, world!") {
		t.Error("failed to use custom prefix")
	}
}

func TestApplicationLogLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{
		ApplicationLogOutput: &buf,
		ApplicationLogLevel:  log.WarnLevel})
	defer log.SetLevel(log.InfoLevel)

	log.Info("not logged")
	log.Warn("logged")
	got := buf.String()
	if strings.Contains(got, "not logged") || !strings.Contains(got, "logged") {
		t.Errorf("failed to apply the log level, got %q", got)
	}
}

func TestApplicationLogJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{
		ApplicationLogOutput:      &buf,
		ApplicationLogJSONEnabled: true})
	defer Init(Options{ApplicationLogOutput: &buf})

	log.Info("json entry")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log entry: %v", err)
	}

	if entry["msg"] != "json entry" {
		t.Errorf("unexpected message: %v", entry["msg"])
	}
}

func TestCustomOutputForAccessLog(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{AccessLogOutput: &buf})
	LogAccess(&AccessEntry{StatusCode: http.StatusTeapot})
	if !strings.Contains(buf.String(), "418") {
		t.Error("failed to use custom access log output")
	}
}

func TestDisabledAccessLog(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{AccessLogOutput: &buf, AccessLogDisabled: true})
	LogAccess(&AccessEntry{StatusCode: http.StatusTeapot})
	if buf.Len() != 0 {
		t.Errorf("failed to disable access log, got %q", buf.String())
	}
}
