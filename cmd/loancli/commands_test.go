package main

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/lendflow/internal/app"
	"github.com/ashureev/lendflow/internal/config"
)

func testBuilder(t *testing.T) builder {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Port:        "0",
		DBPath:      filepath.Join(dir, "lendflow.db"),
		AuditDir:    filepath.Join(dir, "audit"),
		SanctionDir: filepath.Join(dir, "letters"),
		SessionTTL:  time.Hour,
		NLU:         config.NLUConfig{Provider: config.NLURule},
		Lock:        config.LockConfig{Backend: config.LockMemory, TTL: 30 * time.Second, Wait: time.Second},
		Breaker:     config.BreakerConfig{MaxFailures: 3, OpenTimeout: time.Second},
	}
	return func() (*app.App, error) { return app.Build(cfg, nil) }
}

func run(t *testing.T, build builder, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(build)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

var sessionPattern = regexp.MustCompile(`\[(sess_[0-9a-f]{8})\]`)

func TestChatSummaryAndTrail(t *testing.T) {
	build := testBuilder(t)

	out, err := run(t, build, "I need 5 lakhs for 3 years\nexit\n", "chat")
	if err != nil {
		t.Fatalf("chat error = %v\n%s", err, out)
	}
	m := sessionPattern.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no session id in output:\n%s", out)
	}
	id := m[1]
	if !strings.Contains(out, "loancli chat --session "+id) {
		t.Fatalf("missing resume hint:\n%s", out)
	}

	out, err = run(t, build, "", "summary", id)
	if err != nil {
		t.Fatalf("summary error = %v", err)
	}
	if !strings.Contains(out, "Stage:    KYC") || !strings.Contains(out, "I need 5 lakhs for 3 years") {
		t.Fatalf("summary output:\n%s", out)
	}

	out, err = run(t, build, "", "trail", id)
	if err != nil {
		t.Fatalf("trail error = %v", err)
	}
	if !strings.Contains(out, "NONE -> SALES") || !strings.Contains(out, "SALES -> KYC") {
		t.Fatalf("trail output:\n%s", out)
	}

	out, err = run(t, build, "", "chat", "--session", id)
	if err != nil || !strings.Contains(out, "resumed at KYC") {
		t.Fatalf("resume: err %v\n%s", err, out)
	}
}

func TestTrailUnknownSession(t *testing.T) {
	if _, err := run(t, testBuilder(t), "", "trail", "sess_deadbeef"); err == nil {
		t.Fatal("trail of unknown session succeeded")
	}
}
