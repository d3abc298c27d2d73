package gateway

import (
	"testing"
	"time"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("call %d blocked before threshold", i)
		}
		b.OnFailure()
	}

	if b.Allow() {
		t.Fatal("breaker still admits calls after threshold failures")
	}
}

func TestBreakerSuccessResetsFailRun(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.OnFailure()
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	b.OnFailure()

	if !b.Allow() {
		t.Fatal("breaker tripped even though the failure run was interrupted")
	}
}

func TestBreakerProbeAfterCoolDown(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	if !b.Allow() {
		t.Fatal("fresh breaker should allow")
	}
	b.OnFailure()

	if b.Allow() {
		t.Fatal("open breaker admitted a call before cool-down")
	}

	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("breaker did not admit a probe after cool-down")
	}
	if b.Allow() {
		t.Fatal("breaker admitted a second call while probe in flight")
	}

	b.OnSuccess()
	if !b.Allow() {
		t.Fatal("breaker did not close after successful probe")
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	b.OnFailure()
	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("breaker did not admit a probe after cool-down")
	}
	b.OnFailure()

	if b.Allow() {
		t.Fatal("breaker admitted a call right after a failed probe")
	}
}
