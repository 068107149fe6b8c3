// Package cache is the hot working-set cache shared by all workers. It holds
// per-user context, knowledge, nickname, recent memory updates and used-id
// sets in Redis under fixed keys with a TTL. Read-modify-write updates go
// through an optimistic-lock protocol; the durable log stays authoritative,
// so a dropped cache update only costs the next reader a prefill.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/shared/backoff"
)

const (
	// DefaultTTL matches the working-set expiry of every per-user key.
	DefaultTTL = time.Hour
	// DefaultOpTimeout bounds a single cache round-trip.
	DefaultOpTimeout = time.Second

	// RecentUpdateLimit is how many memory-update commands the cache keeps.
	RecentUpdateLimit = 10

	casAttempts = 3
)

// casBackoff spaces out CAS retries: 5 ms doubling, with jitter so contending
// workers desynchronize.
var casBackoff = backoff.Exponential(5*time.Millisecond, casAttempts, 0.5)

type Cache struct {
	client    *redis.Client
	ttl       time.Duration
	opTimeout time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the per-key time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithOpTimeout overrides the per-operation deadline.
func WithOpTimeout(d time.Duration) Option {
	return func(c *Cache) { c.opTimeout = d }
}

func New(client *redis.Client, opts ...Option) *Cache {
	c := &Cache{
		client:    client,
		ttl:       DefaultTTL,
		opTimeout: DefaultOpTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) contextKey(userID string) string   { return "user_context:" + userID }
func (c *Cache) knowledgeKey(userID string) string { return "user_knowledge:" + userID }
func (c *Cache) nicknameKey(userID string) string  { return "user_nickname:" + userID }
func (c *Cache) recentKey(userID string) string    { return "user_recent_memory_update:" + userID }
func (c *Cache) usedKey(userID string) string      { return "user_used_uuid:" + userID }

func (c *Cache) op(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

// ContextPayload is the cached working set: rolling summary plus the
// unsummarized tail of the conversation.
type ContextPayload struct {
	Summary       string        `json:"summary"`
	Conversations []CachedEntry `json:"conversations"`
}

// CachedEntry is a conversation entry as serialized into the cache, with a
// second-resolution wall-clock timestamp.
type CachedEntry struct {
	UUID      string `json:"uuid"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
	Content   string `json:"content"`
	Type      string `json:"type"`
}

// EntryFromDomain converts a durable-log entry for caching.
func EntryFromDomain(e *domain.ConversationEntry) CachedEntry {
	return CachedEntry{
		UUID:      e.UUID,
		Timestamp: domain.FormatTimestamp(e.Timestamp),
		Source:    string(e.Source),
		Content:   e.Content,
		Type:      string(e.Type),
	}
}

func (c *Cache) getJSON(ctx context.Context, key string, v any) error {
	ctx, cancel := c.op(ctx)
	defer cancel()

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

func (c *Cache) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	ctx, cancel := c.op(ctx)
	defer cancel()
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// GetContext returns the cached working set, or domain.ErrNotFound on a miss.
func (c *Cache) GetContext(ctx context.Context, userID string) (*ContextPayload, error) {
	var p ContextPayload
	if err := c.getJSON(ctx, c.contextKey(userID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetContext overwrites the cached working set (used by prefill).
func (c *Cache) SetContext(ctx context.Context, userID string, p *ContextPayload) error {
	return c.setJSON(ctx, c.contextKey(userID), p)
}

// AppendContext appends entries to the cached context under optimistic lock.
// A cache miss is a no-op: the durable log is authoritative and the next
// reader will prefill.
func (c *Cache) AppendContext(ctx context.Context, userID string, entries []CachedEntry) error {
	return c.updateJSON(ctx, c.contextKey(userID), func(data []byte) ([]byte, error) {
		var p ContextPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
		p.Conversations = append(p.Conversations, entries...)
		return json.Marshal(&p)
	})
}

// TrimContext installs a new summary and keeps only the newest keep entries,
// under optimistic lock. Used after summarization.
func (c *Cache) TrimContext(ctx context.Context, userID, summary string, keep int) error {
	return c.updateJSON(ctx, c.contextKey(userID), func(data []byte) ([]byte, error) {
		var p ContextPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
		p.Summary = summary
		if len(p.Conversations) > keep {
			p.Conversations = p.Conversations[len(p.Conversations)-keep:]
		}
		return json.Marshal(&p)
	})
}

// GetKnowledge returns the cached knowledge buffer.
func (c *Cache) GetKnowledge(ctx context.Context, userID string) ([]string, error) {
	var items []string
	if err := c.getJSON(ctx, c.knowledgeKey(userID), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SetKnowledge overwrites the knowledge buffer wholesale. Snapshots replace
// each other, so no compare-and-set is needed.
func (c *Cache) SetKnowledge(ctx context.Context, userID string, items []string) error {
	if items == nil {
		items = []string{}
	}
	return c.setJSON(ctx, c.knowledgeKey(userID), items)
}

// GetNickname returns the cached nickname, or domain.ErrNotFound.
func (c *Cache) GetNickname(ctx context.Context, userID string) (string, error) {
	ctx, cancel := c.op(ctx)
	defer cancel()

	v, err := c.client.Get(ctx, c.nicknameKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("redis get nickname: %w", err)
	}
	return v, nil
}

// SetNickname overwrites the cached nickname.
func (c *Cache) SetNickname(ctx context.Context, userID, nickname string) error {
	ctx, cancel := c.op(ctx)
	defer cancel()

	if err := c.client.Set(ctx, c.nicknameKey(userID), nickname, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set nickname: %w", err)
	}
	return nil
}

// GetRecentUpdates returns the cached recent memory-update commands.
func (c *Cache) GetRecentUpdates(ctx context.Context, userID string) ([]*domain.MemoryUpdateCommand, error) {
	var cmds []*domain.MemoryUpdateCommand
	if err := c.getJSON(ctx, c.recentKey(userID), &cmds); err != nil {
		return nil, err
	}
	return cmds, nil
}

// SetRecentUpdates overwrites the recent-updates list, trimmed to the limit.
func (c *Cache) SetRecentUpdates(ctx context.Context, userID string, cmds []*domain.MemoryUpdateCommand) error {
	if len(cmds) > RecentUpdateLimit {
		cmds = cmds[len(cmds)-RecentUpdateLimit:]
	}
	if cmds == nil {
		cmds = []*domain.MemoryUpdateCommand{}
	}
	return c.setJSON(ctx, c.recentKey(userID), cmds)
}

// AppendRecentUpdate appends a command under optimistic lock, trimming to the
// last RecentUpdateLimit entries. A cache miss is a no-op.
func (c *Cache) AppendRecentUpdate(ctx context.Context, userID string, cmd *domain.MemoryUpdateCommand) error {
	return c.updateJSON(ctx, c.recentKey(userID), func(data []byte) ([]byte, error) {
		var cmds []*domain.MemoryUpdateCommand
		if err := json.Unmarshal(data, &cmds); err != nil {
			return nil, fmt.Errorf("unmarshal recent updates: %w", err)
		}
		cmds = append(cmds, cmd)
		if len(cmds) > RecentUpdateLimit {
			cmds = cmds[len(cmds)-RecentUpdateLimit:]
		}
		return json.Marshal(cmds)
	})
}

// GetUsedIDs returns the memory ids touched by the last retrieval.
func (c *Cache) GetUsedIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	if err := c.getJSON(ctx, c.usedKey(userID), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SetUsedIDs overwrites the used-id set wholesale.
func (c *Cache) SetUsedIDs(ctx context.Context, userID string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	return c.setJSON(ctx, c.usedKey(userID), ids)
}

// DropWorkingSet deletes the user's context, recent-updates and nickname keys.
// The next read of any of them prefills from the durable log.
func (c *Cache) DropWorkingSet(ctx context.Context, userID string) error {
	ctx, cancel := c.op(ctx)
	defer cancel()

	err := c.client.Del(ctx, c.contextKey(userID), c.recentKey(userID), c.nicknameKey(userID)).Err()
	if err != nil {
		return fmt.Errorf("redis del working set: %w", err)
	}
	return nil
}

// updateJSON is the optimistic-lock loop: WATCH the key, read, apply fn, and
// commit the new value in a transactional pipeline. A concurrent writer fails
// the transaction and the loop restarts, up to casAttempts times. If the key
// is absent the update is skipped. After exhausting attempts the update is
// dropped; the durable log remains authoritative.
func (c *Cache) updateJSON(ctx context.Context, key string, fn func(cur []byte) ([]byte, error)) error {
	for attempt := 1; attempt <= casAttempts; attempt++ {
		opCtx, cancel := c.op(ctx)
		err := c.client.Watch(opCtx, func(tx *redis.Tx) error {
			data, err := tx.Get(opCtx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return nil
				}
				return fmt.Errorf("redis get %s: %w", key, err)
			}

			next, err := fn(data)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
				pipe.Set(opCtx, key, next, c.ttl)
				return nil
			})
			return err
		}, key)
		cancel()

		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			slog.DebugContext(ctx, "cache update contended, retrying", "key", key, "attempt", attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(casBackoff.Delay(attempt - 1)):
			}
			continue
		}
		return err
	}

	slog.WarnContext(ctx, "cache update dropped after contention", "key", key, "attempts", casAttempts)
	return nil
}
