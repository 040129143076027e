package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T, opts ...RedisOption) (*miniredis.Miniredis, *Redis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(client, opts...)
	t.Cleanup(func() { _ = r.Close() })
	return mr, r
}

func exercise(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "auth-storage"); err != nil || ok {
		t.Fatalf("Get() on empty storage = ok %v, err %v", ok, err)
	}

	if err := s.Set(ctx, "auth-storage", `{"state":{"token":"abc"}}`); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	v, ok, err := s.Get(ctx, "auth-storage")
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v", ok, err)
	}
	if v != `{"state":{"token":"abc"}}` {
		t.Errorf("Get() = %q", v)
	}

	if err := s.Set(ctx, "auth-storage", "second"); err != nil {
		t.Fatalf("overwrite error: %v", err)
	}
	if v, _, _ := s.Get(ctx, "auth-storage"); v != "second" {
		t.Errorf("after overwrite Get() = %q", v)
	}

	if err := s.Delete(ctx, "auth-storage"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "auth-storage"); ok {
		t.Error("key still present after Delete()")
	}
	if err := s.Delete(ctx, "auth-storage"); err != nil {
		t.Errorf("Delete() of missing key error: %v", err)
	}
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

func TestFile(t *testing.T) {
	f, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile() error: %v", err)
	}
	exercise(t, f)
}

func TestFile_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	f1, _ := NewFile(dir)
	if err := f1.Set(ctx, "auth-storage", "persisted"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	f2, _ := NewFile(dir)
	v, ok, err := f2.Get(ctx, "auth-storage")
	if err != nil || !ok || v != "persisted" {
		t.Errorf("reopened Get() = %q, %v, %v", v, ok, err)
	}
}

func TestFile_RejectsPathKeys(t *testing.T) {
	f, _ := NewFile(t.TempDir())
	if err := f.Set(context.Background(), "../escape", "x"); err == nil {
		t.Error("expected error for key with path separators")
	}
}

func TestNewFile_RequiresDir(t *testing.T) {
	if _, err := NewFile(""); err == nil {
		t.Error("expected error for empty directory")
	}
}

func TestRedis(t *testing.T) {
	_, r := newTestRedis(t)
	exercise(t, r)
}

func TestRedis_PrefixAndTTL(t *testing.T) {
	mr, r := newTestRedis(t, WithPrefix("assets:"), WithTTL(time.Hour))
	ctx := context.Background()

	if err := r.Set(ctx, "auth-storage", "v"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if !mr.Exists("assets:auth-storage") {
		t.Fatal("expected prefixed key in redis")
	}
	if ttl := mr.TTL("assets:auth-storage"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, ok, _ := r.Get(ctx, "auth-storage"); ok {
		t.Error("value should have expired")
	}
}

func TestRedis_Unavailable(t *testing.T) {
	mr, r := newTestRedis(t)
	mr.Close()

	if _, _, err := r.Get(context.Background(), "auth-storage"); err == nil {
		t.Error("expected error when redis is down")
	}
}
