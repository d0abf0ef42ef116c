package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"minwondesk/internal/domain"
	"minwondesk/internal/ports"
)

const defaultBacklogKey = "minwondesk:complaints:pending"

// FallbackStore submits to a primary store and parks the complaint in a Redis
// list when the primary fails. Drain replays the list once the primary is back.
type FallbackStore struct {
	primary ports.ComplaintStore
	redis   *redis.Client
	key     string
	logger  *zap.Logger
}

func NewFallbackStore(primary ports.ComplaintStore, client *redis.Client, key string, logger *zap.Logger) *FallbackStore {
	if primary == nil || client == nil {
		panic("store: primary store and redis client required")
	}
	if key == "" {
		key = defaultBacklogKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackStore{primary: primary, redis: client, key: key, logger: logger}
}

// Submit returns nil when the complaint reached either the primary store or the
// backlog. Both failing returns the joined error.
func (s *FallbackStore) Submit(ctx context.Context, complaint domain.Complaint) error {
	primaryErr := s.primary.Submit(ctx, complaint)
	if primaryErr == nil {
		return nil
	}

	payload, err := json.Marshal(complaint)
	if err != nil {
		return errors.Join(primaryErr, fmt.Errorf("store: encode backlog entry: %w", err))
	}
	// the caller's deadline may be what failed the primary
	if err := s.redis.RPush(context.WithoutCancel(ctx), s.key, payload).Err(); err != nil {
		return errors.Join(primaryErr, fmt.Errorf("store: queue complaint: %w", err))
	}

	s.logger.Warn("primary complaint store failed, queued for retry",
		zap.String("agency", complaint.Agency),
		zap.String("backlog_key", s.key),
		zap.Error(primaryErr),
	)
	return nil
}

// Pending reports how many complaints wait in the backlog.
func (s *FallbackStore) Pending(ctx context.Context) (int64, error) {
	n, err := s.redis.LLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("store: backlog length: %w", err)
	}
	return n, nil
}

// Drain resubmits queued complaints in order. It stops at the first primary
// failure and leaves that entry at the head of the list. An entry whose pop
// fails after a successful replay is sent again on the next drain; the primary
// absorbs the repeat through the complaint ID.
func (s *FallbackStore) Drain(ctx context.Context) (int, error) {
	sent := 0
	for {
		raw, err := s.redis.LIndex(ctx, s.key, 0).Result()
		if errors.Is(err, redis.Nil) {
			return sent, nil
		}
		if err != nil {
			return sent, fmt.Errorf("store: read backlog: %w", err)
		}

		var complaint domain.Complaint
		if err := json.Unmarshal([]byte(raw), &complaint); err != nil {
			s.logger.Error("dropping unreadable backlog entry", zap.Error(err))
			if err := s.redis.LPop(ctx, s.key).Err(); err != nil && !errors.Is(err, redis.Nil) {
				return sent, fmt.Errorf("store: drop backlog entry: %w", err)
			}
			continue
		}

		if err := s.primary.Submit(ctx, complaint); err != nil {
			return sent, fmt.Errorf("store: replay complaint: %w", err)
		}
		if err := s.redis.LPop(ctx, s.key).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return sent, fmt.Errorf("store: pop backlog entry: %w", err)
		}
		sent++
	}
}
