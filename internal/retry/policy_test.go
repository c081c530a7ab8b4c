package retry

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		expected Category
	}{
		{"ENOENT is permanent", "spawn failed: ENOENT", CategoryPermanent},
		{"Missing file is permanent", "open /tmp/session.jsonl: no such file or directory", CategoryPermanent},
		{"Schema mismatch is permanent", "node data failed schema validation", CategoryPermanent},
		{"Missing agent_end is permanent", "no agent_end event in output", CategoryPermanent},
		{"Missing JSON object is permanent", "no JSON object found in assistant message", CategoryPermanent},
		{"Timeout is transient", "agent timed out after 10 minutes", CategoryTransient},
		{"Connection refused is transient", "dial tcp: ECONNREFUSED", CategoryTransient},
		{"Rate limit is transient", "429 too many requests", CategoryTransient},
		{"Unknown defaults to transient", "something completely unexpected happened", CategoryTransient},
		{"Empty message defaults to transient", "", CategoryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Classify(tt.message)
			if result != tt.expected {
				t.Errorf("Classify(%q) = %s, want %s", tt.message, result, tt.expected)
			}
		})
	}
}

func TestDecideBackoffMonotonicity(t *testing.T) {
	policy := Policy{
		MaxRetries:        3,
		BaseDelay:         60 * time.Second,
		MaxDelay:          3600 * time.Second,
		BackoffMultiplier: 2.0,
	}

	tests := []struct {
		retryCount   int
		wantDelay    time.Duration
		wantMinutes  int
	}{
		{0, 60 * time.Second, 1},
		{1, 120 * time.Second, 2},
		{2, 240 * time.Second, 4},
	}

	for _, tt := range tests {
		decision := Decide("connection reset", tt.retryCount, policy)
		if decision.Delay != tt.wantDelay {
			t.Errorf("Decide(retryCount=%d).Delay = %s, want %s", tt.retryCount, decision.Delay, tt.wantDelay)
		}
		if decision.DelayMinutes != tt.wantMinutes {
			t.Errorf("Decide(retryCount=%d).DelayMinutes = %d, want %d", tt.retryCount, decision.DelayMinutes, tt.wantMinutes)
		}
	}
}

func TestDecideDelayCap(t *testing.T) {
	policy := Policy{
		MaxRetries:        10,
		BaseDelay:         60 * time.Second,
		MaxDelay:          3600 * time.Second,
		BackoffMultiplier: 2.0,
	}

	decision := Decide("network error", 9, policy)
	if decision.Delay != 3600*time.Second {
		t.Errorf("delay at retryCount 9 = %s, want cap of 1h", decision.Delay)
	}
	if decision.DelayMinutes != 60 {
		t.Errorf("DelayMinutes at cap = %d, want 60", decision.DelayMinutes)
	}
}

func TestDecideRetryExhaustion(t *testing.T) {
	policy := DefaultPolicy()

	// Transient error with budget remaining retries.
	decision := Decide("timeout waiting for agent", 2, policy)
	if !decision.ShouldRetry {
		t.Error("transient error below max retries should retry")
	}

	// Transient error at the budget does not.
	decision = Decide("timeout waiting for agent", policy.MaxRetries, policy)
	if decision.ShouldRetry {
		t.Error("transient error at max retries should not retry")
	}
}

func TestDecidePermanentShortCircuit(t *testing.T) {
	decision := Decide("spawn failed: ENOENT", 0, DefaultPolicy())
	if decision.ShouldRetry {
		t.Error("permanent error should not retry even at retryCount 0")
	}
	if decision.Category != CategoryPermanent {
		t.Errorf("category = %s, want permanent", decision.Category)
	}

	decision = Decide("no JSON object found in assistant message", 0, DefaultPolicy())
	if decision.ShouldRetry {
		t.Error("unparseable agent output should not retry")
	}
}

func TestDecideRecord(t *testing.T) {
	decision := Decide("agent timed out", 1, DefaultPolicy())
	if decision.Record.Message != "agent timed out" {
		t.Errorf("record message = %q", decision.Record.Message)
	}
	if decision.Record.Category != string(CategoryTransient) {
		t.Errorf("record category = %q", decision.Record.Category)
	}
	if decision.Record.Timestamp.IsZero() {
		t.Error("record timestamp should be set")
	}
}
