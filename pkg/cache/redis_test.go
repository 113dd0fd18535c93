package cache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

// TestRedis_Integration requires a running Redis.
// We skip if connection fails.
func TestRedis_Integration(t *testing.T) {
	r := NewRedis("localhost:6379", "", 0, time.Minute)
	ctx := context.Background()
	if _, err := r.client.Ping(ctx).Result(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	defer r.Close()

	key := Key("com.example.redis.Target", "integration-digest")
	payload := []byte{0xCA, 0xFE, 0xBA, 0xBE, 0x00, 0x01}

	if err := r.Put(ctx, key, payload); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := r.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %x, want %x", got, payload)
	}

	_, ok, err = r.Get(ctx, Key("com.example.redis.Missing", "integration-digest"))
	if err != nil {
		t.Fatalf("get miss: %v", err)
	}
	if ok {
		t.Error("expected miss for absent key")
	}
}
