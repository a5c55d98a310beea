package redis

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNewLeaseStore_EmptyAddrReturnsError(t *testing.T) {
	_, err := NewLeaseStore(Config{}, nil)
	if err == nil {
		t.Fatal("expected error for empty addr, got nil")
	}
	if !strings.Contains(err.Error(), "redis address is required") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestNewLeaseStore_Defaults(t *testing.T) {
	s, err := NewLeaseStore(Config{Addr: "localhost:6379"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	if s.keyPrefix != ConfigDefaults().KeyPrefix {
		t.Errorf("expected default prefix, got %q", s.keyPrefix)
	}
	if s.logger == nil {
		t.Fatal("expected default logger")
	}
	if got := s.leaseKey("order:1"); got != "stl-trade:lease:order:1" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestAcquire_RejectsSubMillisecondTTL(t *testing.T) {
	s, err := NewLeaseStore(Config{Addr: "localhost:6379"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	if _, err := s.Acquire(context.Background(), "k", "o", time.Microsecond); err == nil {
		t.Fatal("expected error for sub-millisecond ttl")
	}
}
