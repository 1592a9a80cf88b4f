package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

var RedisClient *redis.Client

// InitRedis initializes the Redis client
func InitRedis() error {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://redis:6379" // Default Redis address for Docker
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %v", err)
	}

	RedisClient = redis.NewClient(opt)

	// Test the connection
	ctx := context.Background()
	_, err = RedisClient.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return nil
}

// CacheBookingDetails stores a booking-details projection. Only read
// projections are cached; money state is never served from Redis.
func CacheBookingDetails(ctx context.Context, bookingID uint, details map[string]interface{}) error {
	if RedisClient == nil {
		return nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("booking:details:%d", bookingID)
	return RedisClient.Set(ctx, key, data, 5*time.Minute).Err()
}

// GetCachedBookingDetails retrieves a cached booking-details projection.
func GetCachedBookingDetails(ctx context.Context, bookingID uint) (map[string]interface{}, error) {
	if RedisClient == nil {
		return nil, redis.Nil
	}
	key := fmt.Sprintf("booking:details:%d", bookingID)
	data, err := RedisClient.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	var details map[string]interface{}
	if err := json.Unmarshal([]byte(data), &details); err != nil {
		return nil, err
	}
	return details, nil
}

// InvalidateBookingDetails drops the cached projection after any mutating
// transition.
func InvalidateBookingDetails(ctx context.Context, bookingID uint) {
	if RedisClient == nil {
		return
	}
	key := fmt.Sprintf("booking:details:%d", bookingID)
	RedisClient.Del(ctx, key)
}

// MarkEventSeen records a processor event id and reports whether it was new.
// This is only a fast path for duplicate webhook deliveries; the payment row's
// last_processed_event_id remains authoritative.
func MarkEventSeen(ctx context.Context, eventID string) (bool, error) {
	if RedisClient == nil {
		return true, nil
	}
	key := fmt.Sprintf("processor:event:%s", eventID)
	return RedisClient.SetNX(ctx, key, "1", 24*time.Hour).Result()
}

// UnmarkEventSeen drops the seen-marker so the processor's retry of a failed
// delivery is not short-circuited by the fast path.
func UnmarkEventSeen(ctx context.Context, eventID string) {
	if RedisClient == nil {
		return
	}
	key := fmt.Sprintf("processor:event:%s", eventID)
	RedisClient.Del(ctx, key)
}

// PublishBookingUpdate publishes a booking status update to Redis pub/sub
func PublishBookingUpdate(ctx context.Context, bookingID uint, status string, data map[string]interface{}) error {
	if RedisClient == nil {
		return nil
	}
	updateData := map[string]interface{}{
		"bookingId": bookingID,
		"status":    status,
		"data":      data,
		"timestamp": time.Now().Unix(),
	}

	jsonData, err := json.Marshal(updateData)
	if err != nil {
		return err
	}

	return RedisClient.Publish(ctx, "booking:updates", jsonData).Err()
}
