package ratelimit

import (
	"testing"
	"time"
)

func TestKeyedBurstThenRefill(t *testing.T) {
	now := time.Unix(1000, 0)
	k := NewKeyed(2, 3)
	k.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !k.Allow("10.0.0.1") {
			t.Fatalf("call %d: expected allow within burst", i)
		}
	}
	if k.Allow("10.0.0.1") {
		t.Fatalf("expected limit after burst")
	}
	if !k.Allow("10.0.0.2") {
		t.Fatalf("other key must have its own bucket")
	}

	now = now.Add(500 * time.Millisecond)
	if !k.Allow("10.0.0.1") {
		t.Fatalf("expected one token after 500ms at 2/s")
	}
}

func TestKeyedZeroRateIsUnlimited(t *testing.T) {
	k := NewKeyed(0, 0)
	for i := 0; i < 100; i++ {
		if !k.Allow("x") {
			t.Fatalf("call %d limited", i)
		}
	}
	var nilK *Keyed
	if !nilK.Allow("x") {
		t.Fatalf("nil limiter must allow")
	}
}

func TestSweepDropsIdleKeys(t *testing.T) {
	now := time.Unix(1000, 0)
	k := NewKeyed(1, 1)
	k.now = func() time.Time { return now }
	k.Allow("a")
	now = now.Add(5 * time.Minute)
	k.Allow("b")
	now = now.Add(6 * time.Minute)
	if n := k.Sweep(); n != 1 || k.Len() != 1 {
		t.Fatalf("swept=%d left=%d", n, k.Len())
	}
}

func TestRemoteIP(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:5000": "127.0.0.1",
		"[::1]:80":       "::1",
		"10.1.2.3":       "10.1.2.3",
	}
	for in, want := range cases {
		if got := RemoteIP(in); got != want {
			t.Fatalf("RemoteIP(%q)=%q want %q", in, got, want)
		}
	}
	if !IsLoopback("[::1]:80") || IsLoopback("10.1.2.3:1") {
		t.Fatalf("loopback detection wrong")
	}
}
