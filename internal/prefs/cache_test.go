package prefs_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/domain"
	"github.com/vowsuite/notify/internal/prefs"
	"github.com/vowsuite/notify/internal/repository"
)

func TestCache_ReadThroughAndInvalidate(t *testing.T) {
	repo := repository.NewMockPreferenceRepository()
	_ = repo.Upsert(context.Background(), &domain.Preference{
		UserID: "u1", Realtime: true, Push: false, Language: "en", UpdatedAt: time.Now(),
	})
	cache := prefs.NewCache(repo, zap.NewNop())

	p, err := cache.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Push {
		t.Fatal("expected push=false from stored preference")
	}

	// Update behind the cache: Get must keep serving the cached value
	// until an explicit invalidation arrives.
	_ = repo.Upsert(context.Background(), &domain.Preference{
		UserID: "u1", Realtime: true, Push: true, Language: "en", UpdatedAt: time.Now(),
	})
	p, _ = cache.Get(context.Background(), "u1")
	if p.Push {
		t.Fatal("expected stale cached value before invalidation")
	}

	cache.Invalidate("u1")
	p, _ = cache.Get(context.Background(), "u1")
	if !p.Push {
		t.Fatal("expected fresh value after invalidation")
	}
}

func TestCache_MissingUserGetsDefaults(t *testing.T) {
	cache := prefs.NewCache(repository.NewMockPreferenceRepository(), zap.NewNop())

	p, err := cache.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Realtime || !p.Push || !p.Email {
		t.Fatal("expected default opt-ins for realtime, push, and email")
	}
	if p.SMS {
		t.Fatal("expected sms opt-out by default")
	}
}

func TestPreference_QuietHoursWrapMidnight(t *testing.T) {
	p := domain.DefaultPreference("u1")
	p.QuietFrom = "22:00"
	p.QuietTo = "07:00"

	at := func(h int) time.Time {
		return time.Date(2026, 5, 1, h, 30, 0, 0, time.UTC)
	}
	if !p.InQuietHours(at(23)) {
		t.Fatal("23:30 should be inside a 22:00-07:00 window")
	}
	if !p.InQuietHours(at(3)) {
		t.Fatal("03:30 should be inside a 22:00-07:00 window")
	}
	if p.InQuietHours(at(12)) {
		t.Fatal("12:30 should be outside a 22:00-07:00 window")
	}
}
