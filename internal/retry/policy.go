// Package retry classifies job failures and decides whether to retry them.
// Everything here is pure: no I/O, no clocks beyond stamping the error
// record, so the decision table is directly testable against literal error
// strings and retry counts.
package retry

import (
	"math"
	"strings"
	"time"

	"github.com/Whamp/pi-brain/internal/queue"
)

type Category string

const (
	CategoryTransient Category = "transient"
	CategoryPermanent Category = "permanent"
)

// Policy is the backoff policy applied to retryable failures.
type Policy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultPolicy returns the standard retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		BaseDelay:         60 * time.Second,
		MaxDelay:          3600 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Decision is the outcome of classifying one failure.
type Decision struct {
	Category     Category
	ShouldRetry  bool
	Delay        time.Duration
	DelayMinutes int
	Record       queue.JobError
}

// permanentSignatures mark failures that retrying cannot fix: missing
// inputs, validation mismatches, and structurally invalid agent output.
var permanentSignatures = []string{
	"enoent",
	"no such file",
	"not found",
	"executable file not found",
	"missing required",
	"validation",
	"schema",
	"malformed",
	"invalid json",
	"no json object",
	"no agent_end",
	"no assistant message",
	"permission denied",
}

// transientSignatures mark environment hiccups worth retrying.
var transientSignatures = []string{
	"timeout",
	"timed out",
	"connection",
	"network",
	"econnrefused",
	"econnreset",
	"rate limit",
	"too many requests",
	"overloaded",
	"unavailable",
	"temporarily",
	"broken pipe",
}

// Classify categorizes an error message. Permanent signatures win over
// transient ones; unknown messages default to transient so unexpected
// failures are retried rather than silently dropped.
func Classify(message string) Category {
	lower := strings.ToLower(message)
	for _, signature := range permanentSignatures {
		if strings.Contains(lower, signature) {
			return CategoryPermanent
		}
	}
	for _, signature := range transientSignatures {
		if strings.Contains(lower, signature) {
			return CategoryTransient
		}
	}
	return CategoryTransient
}

// Decide classifies the error message and computes the retry decision for a
// job at the given retry count. The delay for attempt n (0-indexed) is
// min(base * multiplier^n, max), reported in whole minutes rounded up.
func Decide(message string, retryCount int, policy Policy) Decision {
	category := Classify(message)

	delay := time.Duration(float64(policy.BaseDelay) * math.Pow(policy.BackoffMultiplier, float64(retryCount)))
	if delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}

	return Decision{
		Category:     category,
		ShouldRetry:  category == CategoryTransient && retryCount < policy.MaxRetries,
		Delay:        delay,
		DelayMinutes: int(math.Ceil(delay.Minutes())),
		Record: queue.JobError{
			Message:   message,
			Timestamp: time.Now().UTC(),
			Category:  string(category),
		},
	}
}
