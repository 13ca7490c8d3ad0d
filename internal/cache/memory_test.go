package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderSetGet(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	if _, err := p.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	if err := p.Set(ctx, "k", []byte("value"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := p.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "value" {
		t.Errorf("Get = %q, want value", got)
	}

	// The stored copy must not alias the caller's slice.
	got[0] = 'X'
	again, err := p.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(again) != "value" {
		t.Errorf("cached value mutated through a returned slice: %q", again)
	}
}

func TestMemoryProviderExpiry(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	if err := p.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expired key should miss, got %v", err)
	}
}

func TestMemoryProviderSetNX(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	ok, err := p.SetNX(ctx, "k", []byte("first"), 0)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v, %v", ok, err)
	}
	ok, err = p.SetNX(ctx, "k", []byte("second"), 0)
	if err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	if ok {
		t.Fatal("SetNX overwrote an existing key")
	}
	got, _ := p.Get(ctx, "k")
	if string(got) != "first" {
		t.Errorf("value = %q, want first", got)
	}
}

func TestMemoryProviderSetNXAfterExpiry(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	if _, err := p.SetNX(ctx, "k", []byte("v1"), 10*time.Millisecond); err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	ok, err := p.SetNX(ctx, "k", []byte("v2"), 0)
	if err != nil || !ok {
		t.Fatalf("SetNX after expiry = %v, %v, want true", ok, err)
	}
}

func TestMemoryProviderDel(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	_ = p.Set(ctx, "k", []byte("v"), 0)
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("deleted key should miss, got %v", err)
	}
}
