package llm

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestKeyPoolRoundRobin(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	pool := NewKeyPool([]string{"k1", "k2", "k3"}, logger)

	got := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		key, ok := pool.Next()
		if !ok {
			t.Fatalf("Next() exhausted at %d", i)
		}
		got = append(got, key)
	}
	want := []string{"k1", "k2", "k3", "k1", "k2", "k3"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("rotation[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestKeyPoolSkipsCoolingKeys(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	pool := NewKeyPool([]string{"k1", "k2"}, logger)

	pool.Cooldown("k1", time.Hour)
	for i := 0; i < 3; i++ {
		key, ok := pool.Next()
		if !ok {
			t.Fatal("pool should still have k2 available")
		}
		if key != "k2" {
			t.Errorf("Next() = %s, want k2 while k1 cools", key)
		}
	}
	if pool.Available() != 1 {
		t.Errorf("Available() = %d, want 1", pool.Available())
	}
}

func TestKeyPoolCooldownExpires(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	pool := NewKeyPool([]string{"k1"}, logger)

	pool.Cooldown("k1", 20*time.Millisecond)
	if _, ok := pool.Next(); ok {
		t.Error("key should be unavailable during cooldown")
	}
	if !pool.Exhausted() {
		t.Error("single cooling key should exhaust the pool")
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := pool.Next(); !ok {
		t.Error("key should be available after cooldown expires")
	}
}

func TestKeyPoolDisableIsPermanent(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	pool := NewKeyPool([]string{"k1", "k2"}, logger)

	pool.Disable("k1")
	for i := 0; i < 4; i++ {
		key, ok := pool.Next()
		if !ok || key != "k2" {
			t.Fatalf("Next() = (%s, %v), want k2", key, ok)
		}
	}

	pool.Disable("k2")
	if !pool.Exhausted() {
		t.Error("pool with all keys disabled should be exhausted")
	}
	if !pool.EarliestAvailable().IsZero() {
		t.Error("EarliestAvailable should be zero when every key is disabled")
	}
}

func TestKeyPoolEarliestAvailable(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	pool := NewKeyPool([]string{"k1", "k2"}, logger)

	pool.Cooldown("k1", 2*time.Hour)
	pool.Cooldown("k2", 1*time.Hour)

	earliest := pool.EarliestAvailable()
	until := time.Until(earliest)
	if until < 55*time.Minute || until > 65*time.Minute {
		t.Errorf("EarliestAvailable in %v, want ~1h (the shorter cooldown)", until)
	}
}
