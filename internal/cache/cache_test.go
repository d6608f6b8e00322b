package cache

import (
	"context"
	"testing"
	"time"
)

type sample struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	mc := NewMemoryCache(16)
	defer mc.Close()
	ctx := context.Background()

	in := sample{Name: "momentum", Score: 1.42}
	if err := mc.Set(ctx, ReportKey("run-1"), in, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var out sample
	if err := mc.Get(ctx, ReportKey("run-1"), &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestMemoryCacheMiss(t *testing.T) {
	mc := NewMemoryCache(16)
	defer mc.Close()

	var out sample
	if err := mc.Get(context.Background(), "missing", &out); err != ErrCacheMiss {
		t.Errorf("err = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryCacheExpiration(t *testing.T) {
	mc := NewMemoryCache(16)
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := mc.Get(ctx, "k", nil); err != ErrCacheMiss {
		t.Errorf("expired key: err = %v, want ErrCacheMiss", err)
	}
	if ok, _ := mc.Exists(ctx, "k"); ok {
		t.Error("expired key should not exist")
	}
}

func TestMemoryCacheLRUEviction(t *testing.T) {
	mc := NewMemoryCache(2)
	defer mc.Close()
	ctx := context.Background()

	mc.Set(ctx, "a", 1, 0)
	time.Sleep(time.Millisecond)
	mc.Set(ctx, "b", 2, 0)
	time.Sleep(time.Millisecond)

	// 访问a使其变为最近使用，写入c应淘汰b
	if err := mc.Get(ctx, "a", nil); err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	mc.Set(ctx, "c", 3, 0)

	if ok, _ := mc.Exists(ctx, "a"); !ok {
		t.Error("recently used key evicted")
	}
	if ok, _ := mc.Exists(ctx, "b"); ok {
		t.Error("least recently used key survived eviction")
	}
}

func TestKeyHelpers(t *testing.T) {
	if ReportKey("x") != "aquant:report:x" {
		t.Errorf("ReportKey = %q", ReportKey("x"))
	}
	if SweepKey("y") != "aquant:sweep:y" {
		t.Errorf("SweepKey = %q", SweepKey("y"))
	}
}
