package cmdutil

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunFast_Success(t *testing.T) {
	out, err := RunFast(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("output = %q", out)
	}
}

func TestRun_Timeout(t *testing.T) {
	_, err := Run(context.Background(), 50*time.Millisecond, "sleep 2")
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %v, want a timeout error", err)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	_, err := RunFast(context.Background(), "exit 1")
	if err == nil {
		t.Fatalf("expected error for non-zero exit")
	}
}

func TestRun_PlaceholderSubstitutedBeforeInvocation(t *testing.T) {
	cmd := strings.ReplaceAll("echo %slot_name%", "%slot_name%", "standby1_slot")
	out, err := RunFast(context.Background(), cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(string(out)) != "standby1_slot" {
		t.Errorf("output = %q", out)
	}
}
