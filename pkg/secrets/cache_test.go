package secrets

import (
	"testing"
	"time"
)

func TestCachePutGet(t *testing.T) {
	c := NewCache[string](time.Minute)
	c.Put("k", "v")

	got, ok := c.Get("k")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != "v" {
		t.Errorf("expected v, got %s", got)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache[[]byte](50 * time.Millisecond)
	c.Put("k", []byte("secret"))

	time.Sleep(100 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestCacheBust(t *testing.T) {
	c := NewCache[string](time.Minute)
	c.Put("k", "v")
	c.Bust("k")

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected busted entry to miss")
	}
}
