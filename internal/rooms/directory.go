package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"codesync/internal/models"
	"codesync/internal/utils"
)

// AnnounceChannel is the pub/sub channel where the lobby announces
// newly created rooms.
const AnnounceChannel = "rooms"

const roomKeyTTL = 24 * time.Hour

// Directory caches room metadata announced by the lobby. It is
// auxiliary to the live session state: losing it never loses buffer
// content, only the "does this room exist / who was it made for" info
// served on the status endpoint.
type Directory struct {
	rdb   *redis.Client
	log   *utils.Logger
	mu    sync.RWMutex
	cache map[string]*models.RoomInfo
}

func NewDirectory(redisAddr string, log *utils.Logger) *Directory {
	return &Directory{
		rdb:   redis.NewClient(&redis.Options{Addr: redisAddr}),
		log:   log,
		cache: make(map[string]*models.RoomInfo),
	}
}

func (d *Directory) Close() error { return d.rdb.Close() }

// Subscribe consumes room announcements until the context is cancelled.
func (d *Directory) Subscribe(ctx context.Context) {
	subscriber := d.rdb.Subscribe(ctx, AnnounceChannel)
	defer subscriber.Close()
	ch := subscriber.Channel()

	d.log.Info("room directory subscribed", "channel", AnnounceChannel)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var info models.RoomInfo
			if err := json.Unmarshal([]byte(msg.Payload), &info); err != nil {
				d.log.Warn("failed to parse room announcement", "error", err.Error())
				continue
			}
			d.record(ctx, &info)
		}
	}
}

func (d *Directory) record(ctx context.Context, info *models.RoomInfo) {
	if info.Status == "" {
		info.Status = "ready"
	}
	if info.CreatedAt == "" {
		info.CreatedAt = time.Now().Format(time.RFC3339)
	}

	d.mu.Lock()
	d.cache[info.RoomID] = info
	d.mu.Unlock()

	d.persist(ctx, info)
	d.log.Info("room announced", "roomId", info.RoomID, "status", info.Status)
}

func (d *Directory) persist(ctx context.Context, info *models.RoomInfo) {
	roomKey := "room:" + info.RoomID
	if err := d.rdb.HSet(ctx, roomKey, map[string]interface{}{
		"roomId":    info.RoomID,
		"user1":     info.User1,
		"user2":     info.User2,
		"status":    info.Status,
		"createdAt": info.CreatedAt,
	}).Err(); err != nil {
		d.log.Warn("failed to persist room info", "roomId", info.RoomID, "error", err.Error())
		return
	}
	d.rdb.Expire(ctx, roomKey, roomKeyTTL)
}

// Get returns room metadata, falling back to redis when another
// instance recorded the announcement.
func (d *Directory) Get(ctx context.Context, roomID string) (*models.RoomInfo, error) {
	d.mu.RLock()
	info, ok := d.cache[roomID]
	d.mu.RUnlock()
	if ok {
		return info, nil
	}

	roomKey := "room:" + roomID
	fields, err := d.rdb.HGetAll(ctx, roomKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room from redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("room not found")
	}

	return &models.RoomInfo{
		RoomID:    fields["roomId"],
		User1:     fields["user1"],
		User2:     fields["user2"],
		Status:    fields["status"],
		CreatedAt: fields["createdAt"],
	}, nil
}
