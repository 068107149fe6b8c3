// Package memory unifies the durable log, the hot cache and the vector index
// behind cache-aside reads and write-through updates. The durable log is
// always authoritative; cache misses trigger a prefill from it.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vocagent/vocagent/api/cache"
	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/api/store"
)

// VectorIndex is the similarity-index surface the facade delegates to.
type VectorIndex interface {
	Add(ctx context.Context, userID, content string) (string, error)
	Update(ctx context.Context, userID, memID, content string) error
	Delete(ctx context.Context, userID, memID string) error
	Search(ctx context.Context, userID, query string, k int) ([]*domain.MemoryHit, error)
}

type Facade struct {
	store *store.Store
	cache *cache.Cache
	vec   VectorIndex
}

func New(s *store.Store, c *cache.Cache, vec VectorIndex) *Facade {
	return &Facade{store: s, cache: c, vec: vec}
}

// Store exposes the underlying durable log for transaction scoping.
func (f *Facade) Store() *store.Store { return f.store }

// WithStore returns a facade bound to a different durable handle but sharing
// the cache and vector index. The background writer uses this to commit on
// its own connection.
func (f *Facade) WithStore(s *store.Store) *Facade {
	return &Facade{store: s, cache: f.cache, vec: f.vec}
}

// ReadUser fetches the user row from the durable log.
func (f *Facade) ReadUser(ctx context.Context, userID string) (*domain.User, error) {
	return f.store.GetUser(ctx, userID)
}

// PrefillWorkingSet loads the user's working set from the durable log into
// the cache: context, knowledge buffer, nickname and recent updates.
// Idempotent. On a durable-log failure the cache is left untouched.
func (f *Facade) PrefillWorkingSet(ctx context.Context, userID string) error {
	u, err := f.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("prefill: %w", err)
	}

	tail, err := f.store.TailConversations(ctx, userID, u.ContextMemoryCount)
	if err != nil {
		return fmt.Errorf("prefill tail: %w", err)
	}
	knowledge, err := f.store.ListKnowledgeBuffer(ctx, userID)
	if err != nil {
		return fmt.Errorf("prefill knowledge: %w", err)
	}
	recent, err := f.store.ListRecentMemoryUpdates(ctx, userID, cache.RecentUpdateLimit)
	if err != nil {
		return fmt.Errorf("prefill recent updates: %w", err)
	}

	payload := &cache.ContextPayload{
		Summary:       u.ContextSummary,
		Conversations: make([]cache.CachedEntry, 0, len(tail)),
	}
	for _, e := range tail {
		payload.Conversations = append(payload.Conversations, cache.EntryFromDomain(e))
	}

	if err := f.cache.SetContext(ctx, userID, payload); err != nil {
		return err
	}
	if err := f.cache.SetKnowledge(ctx, userID, knowledge); err != nil {
		return err
	}
	if err := f.cache.SetNickname(ctx, userID, u.Nickname); err != nil {
		return err
	}
	return f.cache.SetRecentUpdates(ctx, userID, recent)
}

// AppendConversations appends entries to the durable log (joining any ambient
// transaction) and then appends them to the cached context under optimistic
// lock. A failed cache update is logged and dropped.
func (f *Facade) AppendConversations(ctx context.Context, userID string, entries []*domain.ConversationEntry) error {
	if err := f.store.AppendConversations(ctx, userID, entries); err != nil {
		return err
	}

	cached := make([]cache.CachedEntry, 0, len(entries))
	for _, e := range entries {
		cached = append(cached, cache.EntryFromDomain(e))
	}
	if err := f.cache.AppendContext(ctx, userID, cached); err != nil {
		slog.WarnContext(ctx, "context cache append failed", "user_id", userID, "error", err)
	}
	return nil
}

// DropWorkingSet discards the cached context, recent updates and nickname so
// the next read prefills from the durable log. Called when a rolled-back
// write has left the cache ahead of the log.
func (f *Facade) DropWorkingSet(ctx context.Context, userID string) error {
	return f.cache.DropWorkingSet(ctx, userID)
}

// ReadContext returns the summary and working-window entries, cache-aside.
func (f *Facade) ReadContext(ctx context.Context, userID string) (string, []cache.CachedEntry, error) {
	p, err := f.cache.GetContext(ctx, userID)
	if err == nil {
		return p.Summary, p.Conversations, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", nil, err
	}

	if err := f.PrefillWorkingSet(ctx, userID); err != nil {
		return "", nil, err
	}
	p, err = f.cache.GetContext(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil, nil
		}
		return "", nil, err
	}
	return p.Summary, p.Conversations, nil
}

// ReadKnowledgeBuffer returns the previous retrieval snapshot, cache-aside.
func (f *Facade) ReadKnowledgeBuffer(ctx context.Context, userID string) ([]string, error) {
	items, err := f.cache.GetKnowledge(ctx, userID)
	if err == nil {
		return items, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if err := f.PrefillWorkingSet(ctx, userID); err != nil {
		return nil, err
	}
	items, err = f.cache.GetKnowledge(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return items, err
}

// ReadNickname returns the user's nickname, cache-aside.
func (f *Facade) ReadNickname(ctx context.Context, userID string) (string, error) {
	name, err := f.cache.GetNickname(ctx, userID)
	if err == nil {
		return name, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	if err := f.PrefillWorkingSet(ctx, userID); err != nil {
		return "", err
	}
	name, err = f.cache.GetNickname(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return store.DefaultNickname, nil
	}
	return name, err
}

// ReadRecentUpdates returns the last few memory-update commands, cache-aside.
func (f *Facade) ReadRecentUpdates(ctx context.Context, userID string) ([]*domain.MemoryUpdateCommand, error) {
	cmds, err := f.cache.GetRecentUpdates(ctx, userID)
	if err == nil {
		return cmds, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if err := f.PrefillWorkingSet(ctx, userID); err != nil {
		return nil, err
	}
	cmds, err = f.cache.GetRecentUpdates(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return cmds, err
}

// ReadUsedIDs returns the vector ids touched by the previous retrieval. The
// set lives only in the cache; a miss means none.
func (f *Facade) ReadUsedIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := f.cache.GetUsedIDs(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return ids, err
}

// ReplaceUsedIDs overwrites the used-id set wholesale.
func (f *Facade) ReplaceUsedIDs(ctx context.Context, userID string, ids []string) error {
	return f.cache.SetUsedIDs(ctx, userID, ids)
}

// ReplaceKnowledgeBuffer replaces the snapshot in the durable log and
// overwrites the cached copy. Whole-value replacement, no compare-and-set.
func (f *Facade) ReplaceKnowledgeBuffer(ctx context.Context, userID string, items []string) error {
	if err := f.store.ReplaceKnowledgeBuffer(ctx, userID, items); err != nil {
		return err
	}
	if err := f.cache.SetKnowledge(ctx, userID, items); err != nil {
		slog.WarnContext(ctx, "knowledge cache overwrite failed", "user_id", userID, "error", err)
	}
	return nil
}

// TailConversations reads the newest n durable entries in chronological order.
func (f *Facade) TailConversations(ctx context.Context, userID string, n int) ([]*domain.ConversationEntry, error) {
	return f.store.TailConversations(ctx, userID, n)
}

// ReplaceSummary installs a new rolling summary, resets the working-window
// count, and trims the cached context to the newest windowCount entries.
func (f *Facade) ReplaceSummary(ctx context.Context, userID, summary string, windowCount int) error {
	if err := f.store.UpdateSummary(ctx, userID, summary, windowCount); err != nil {
		return err
	}
	if err := f.cache.TrimContext(ctx, userID, summary, windowCount); err != nil {
		slog.WarnContext(ctx, "context cache trim failed", "user_id", userID, "error", err)
	}
	return nil
}

// UpdateNickname updates the user row and overwrites the cached nickname.
func (f *Facade) UpdateNickname(ctx context.Context, userID, nickname string) error {
	if err := f.store.UpdateNickname(ctx, userID, nickname); err != nil {
		return err
	}
	if err := f.cache.SetNickname(ctx, userID, nickname); err != nil {
		slog.WarnContext(ctx, "nickname cache overwrite failed", "user_id", userID, "error", err)
	}
	return nil
}

// RecordMemoryUpdate appends a command to the audit log and to the cached
// recent-updates list (trimmed to the limit).
func (f *Facade) RecordMemoryUpdate(ctx context.Context, userID string, cmd *domain.MemoryUpdateCommand) error {
	if err := f.store.InsertMemoryUpdate(ctx, userID, cmd); err != nil {
		return err
	}
	if err := f.cache.AppendRecentUpdate(ctx, userID, cmd); err != nil {
		slog.WarnContext(ctx, "recent-updates cache append failed", "user_id", userID, "error", err)
	}
	return nil
}

// AddMemoryFragment adds a fragment to the vector index and records the
// corresponding add command.
func (f *Facade) AddMemoryFragment(ctx context.Context, userID, content string) (string, error) {
	memID, err := f.vec.Add(ctx, userID, content)
	if err != nil {
		return "", err
	}
	cmd := &domain.MemoryUpdateCommand{
		Kind:     domain.CommandAdd,
		Content:  content,
		TargetID: memID,
	}
	if err := f.RecordMemoryUpdate(ctx, userID, cmd); err != nil {
		return "", err
	}
	return memID, nil
}

// UpdateMemoryFragment rewrites a fragment in the vector index and records
// the corresponding update command.
func (f *Facade) UpdateMemoryFragment(ctx context.Context, userID, memID, content string) error {
	if err := f.vec.Update(ctx, userID, memID, content); err != nil {
		return err
	}
	cmd := &domain.MemoryUpdateCommand{
		Kind:     domain.CommandUpdate,
		Content:  content,
		TargetID: memID,
	}
	return f.RecordMemoryUpdate(ctx, userID, cmd)
}

// DeleteMemoryFragment removes a fragment from the vector index.
func (f *Facade) DeleteMemoryFragment(ctx context.Context, userID, memID string) error {
	return f.vec.Delete(ctx, userID, memID)
}

// VectorSearch delegates to the index, always filtered by user.
func (f *Facade) VectorSearch(ctx context.Context, userID, query string, k int) ([]*domain.MemoryHit, error) {
	return f.vec.Search(ctx, userID, query, k)
}
