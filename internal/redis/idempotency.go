package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyTTL is how long a dispatch response stays replayable for a
	// client-provided Idempotency-Key. The engine itself never deduplicates
	// batches; this only shields operators from accidental double submission
	// (double click, HTTP retry) within the window.
	IdempotencyTTL = 24 * time.Hour

	// processingTTL is the lock duration while a dispatch is running.
	processingTTL = 5 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest indicates an idempotency key collision with an
// in-flight dispatch.
var ErrDuplicateRequest = errors.New("duplicate request: idempotency key already exists")

// DispatchReplay stores the cached HTTP response of a completed dispatch.
type DispatchReplay struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	CreatedAt  int64           `json:"created_at"`
}

// IdempotencyService provides dispatch-response replay using Redis.
type IdempotencyService struct {
	client *Client
	logger *zap.Logger
}

// NewIdempotencyService creates a new idempotency service.
func NewIdempotencyService(client *Client, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{
		client: client,
		logger: logger,
	}
}

func (s *IdempotencyService) buildKey(kind, idempotencyKey string) string {
	return fmt.Sprintf("dispatch:%s:%s", kind, idempotencyKey)
}

// Check retrieves a cached response for an idempotency key. Returns
// (nil, nil) if the key doesn't exist, (replay, nil) if found, or
// ErrDuplicateRequest if a dispatch with the key is still running.
func (s *IdempotencyService) Check(ctx context.Context, kind, idempotencyKey string) (*DispatchReplay, error) {
	key := s.buildKey(kind, idempotencyKey)

	val, err := s.client.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if val == processingMarker {
		return nil, ErrDuplicateRequest
	}

	var replay DispatchReplay
	if err := json.Unmarshal([]byte(val), &replay); err != nil {
		s.logger.Error("failed to unmarshal cached dispatch response", zap.Error(err))
		return nil, fmt.Errorf("invalid cached response: %w", err)
	}

	s.logger.Debug("idempotency cache hit",
		zap.String("kind", kind),
		zap.String("idempotency_key", idempotencyKey),
	)

	return &replay, nil
}

// Store saves the response of a completed dispatch for later replay.
func (s *IdempotencyService) Store(ctx context.Context, kind, idempotencyKey string, replay *DispatchReplay) error {
	key := s.buildKey(kind, idempotencyKey)

	if replay.CreatedAt == 0 {
		replay.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(replay)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if err := s.client.rdb.Set(ctx, key, data, IdempotencyTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Reserve acquires an idempotency lock using SET NX.
func (s *IdempotencyService) Reserve(ctx context.Context, kind, idempotencyKey string) (bool, error) {
	key := s.buildKey(kind, idempotencyKey)

	set, err := s.client.rdb.SetNX(ctx, key, processingMarker, processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	return set, nil
}

// CheckOrReserve checks for an existing response or reserves the key.
// Returns the cached replay if found, nil if reserved, or error.
func (s *IdempotencyService) CheckOrReserve(ctx context.Context, kind, idempotencyKey string) (*DispatchReplay, error) {
	replay, err := s.Check(ctx, kind, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}

	reserved, err := s.Reserve(ctx, kind, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, ErrDuplicateRequest
	}

	return nil, nil
}

// Release drops a reservation after a failed dispatch so the operator can
// retry with the same key.
func (s *IdempotencyService) Release(ctx context.Context, kind, idempotencyKey string) error {
	return s.client.rdb.Del(ctx, s.buildKey(kind, idempotencyKey)).Err()
}
