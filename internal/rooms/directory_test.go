package rooms

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"codesync/internal/models"
	"codesync/internal/utils"
)

func setupDirectory(t *testing.T) (*Directory, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	d := NewDirectory(mr.Addr(), utils.NewNopLogger())
	t.Cleanup(func() { _ = d.Close() })
	return d, mr
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestSubscribeCachesAnnouncements(t *testing.T) {
	d, _ := setupDirectory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.Subscribe(ctx)
	time.Sleep(50 * time.Millisecond)

	payload, _ := json.Marshal(models.RoomInfo{RoomID: "roomA", User1: "u1", User2: "u2"})
	if err := d.rdb.Publish(context.Background(), AnnounceChannel, string(payload)).Err(); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		info, err := d.Get(context.Background(), "roomA")
		return err == nil && info.Status == "ready" && info.User1 == "u1"
	})
}

func TestSubscribeIgnoresInvalidPayload(t *testing.T) {
	d, _ := setupDirectory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.Subscribe(ctx)
	time.Sleep(50 * time.Millisecond)

	if err := d.rdb.Publish(context.Background(), AnnounceChannel, "not-json").Err(); err != nil {
		t.Fatalf("publish invalid payload: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if _, err := d.Get(context.Background(), "roomA"); err == nil {
		t.Fatalf("expected no room recorded")
	}
}

func TestGetFallsBackToRedis(t *testing.T) {
	d, mr := setupDirectory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.Subscribe(ctx)
	time.Sleep(50 * time.Millisecond)

	payload, _ := json.Marshal(models.RoomInfo{RoomID: "roomB", Status: "ready"})
	if err := d.rdb.Publish(context.Background(), AnnounceChannel, string(payload)).Err(); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		_, err := d.Get(context.Background(), "roomB")
		return err == nil
	})

	// A second instance has a cold cache and must read the redis hash.
	other := NewDirectory(mr.Addr(), utils.NewNopLogger())
	t.Cleanup(func() { _ = other.Close() })

	info, err := other.Get(context.Background(), "roomB")
	if err != nil {
		t.Fatalf("expected redis fallback, got %v", err)
	}
	if info.RoomID != "roomB" || info.Status != "ready" {
		t.Fatalf("unexpected info: %#v", info)
	}
}

func TestGetUnknownRoom(t *testing.T) {
	d, _ := setupDirectory(t)
	if _, err := d.Get(context.Background(), "nope"); err == nil {
		t.Fatalf("expected not-found error")
	}
}
