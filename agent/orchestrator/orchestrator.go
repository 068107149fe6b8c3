// Package orchestrator drives one chat turn end to end: persist the user
// entry, gather context, plan, generate, stream, and commit the turn's writes
// in the background.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vocagent/vocagent/agent/chat"
	"github.com/vocagent/vocagent/agent/memwrite"
	"github.com/vocagent/vocagent/agent/plan"
	"github.com/vocagent/vocagent/agent/search"
	"github.com/vocagent/vocagent/agent/stream"
	"github.com/vocagent/vocagent/agent/summary"
	"github.com/vocagent/vocagent/api/cache"
	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/api/memory"
	"github.com/vocagent/vocagent/shared/id"
)

// ImagePrefix introduces a described image in the conversation log.
const ImagePrefix = "（用户发送了一张图片）："

// ImageIngester turns raw image bytes into a stored path and a description.
type ImageIngester interface {
	Ingest(ctx context.Context, userID string, data []byte, now time.Time) (string, string, error)
}

type Orchestrator struct {
	mem        *memory.Facade
	bgMem      *memory.Facade
	retriever  *search.Planner
	planner    *plan.Planner
	generator  *chat.Generator
	streamer   *stream.Streamer
	writer     *memwrite.Writer
	summarizer *summary.Summarizer
	images     ImageIngester

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Config wires the orchestrator. BackgroundMem must be bound to a durable
// handle independent of the request path's.
type Config struct {
	Mem           *memory.Facade
	BackgroundMem *memory.Facade
	Retriever     *search.Planner
	Planner       *plan.Planner
	Generator     *chat.Generator
	Streamer      *stream.Streamer
	Writer        *memwrite.Writer
	Summarizer    *summary.Summarizer
	Images        ImageIngester
}

func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		mem:        cfg.Mem,
		bgMem:      cfg.BackgroundMem,
		retriever:  cfg.Retriever,
		planner:    cfg.Planner,
		generator:  cfg.Generator,
		streamer:   cfg.Streamer,
		writer:     cfg.Writer,
		summarizer: cfg.Summarizer,
		images:     cfg.Images,
	}
}

// Turn is one user request. Exactly one of Text or Image is set.
type Turn struct {
	UserID          string
	Text            string
	Image           []byte
	ImageClientPath string
}

// Run executes the turn and sends reply frames to out. The caller owns the
// channel and closes it after Run returns; Run returns only after the turn's
// background write has finished, so a later turn never reads stale context.
// Turns for the same user are serialized.
func (o *Orchestrator) Run(ctx context.Context, turn Turn, out chan<- *stream.Frame) error {
	lock := o.userLock(turn.UserID)
	lock.Lock()
	defer lock.Unlock()

	userEntry, err := o.buildUserEntry(ctx, turn)
	if err != nil {
		return err
	}
	if err := o.mem.AppendConversations(ctx, turn.UserID, []*domain.ConversationEntry{userEntry}); err != nil {
		return fmt.Errorf("append user entry: %w", err)
	}

	summaryText, cached, err := o.mem.ReadContext(ctx, turn.UserID)
	if err != nil {
		return fmt.Errorf("read context: %w", err)
	}
	history := renderHistory(summaryText, cached)

	var nickname string
	var retrieval *search.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nickname, err = o.mem.ReadNickname(gctx, turn.UserID)
		return err
	})
	g.Go(func() error {
		var err error
		retrieval, err = o.retriever.Run(gctx, turn.UserID, userEntry.Content, history)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("gather turn context: %w", err)
	}

	step, err := o.planner.Run(ctx, userEntry.Content, history, retrieval.Knowledge)
	if err != nil {
		return err
	}
	items, err := o.generator.Run(ctx, chat.Input{
		UserInput: userEntry.Content,
		History:   history,
		Knowledge: retrieval.Knowledge,
		Nickname:  nickname,
		Plan:      step,
	})
	if err != nil {
		return err
	}
	agentEntries := buildAgentEntries(turn.UserID, items)

	if err := ctx.Err(); err != nil {
		return err
	}

	// The background write outlives request cancellation so the log always
	// reflects the reply that was streamed.
	writeCtx := context.WithoutCancel(ctx)
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		o.commitTurn(writeCtx, turn.UserID, userEntry, agentEntries, history, retrieval)
	}()

	streamErr := o.streamer.Stream(ctx, items, out)
	<-writeDone
	return streamErr
}

func (o *Orchestrator) buildUserEntry(ctx context.Context, turn Turn) (*domain.ConversationEntry, error) {
	now := time.Now()
	entry := &domain.ConversationEntry{
		UUID:      id.NewConversation(),
		UserID:    turn.UserID,
		Timestamp: now,
		Source:    domain.SourceUser,
		Type:      domain.ContentText,
		Content:   turn.Text,
	}
	if turn.Image == nil {
		return entry, nil
	}

	path, desc, err := o.images.Ingest(ctx, turn.UserID, turn.Image, now)
	if err != nil {
		return nil, fmt.Errorf("ingest image: %w", err)
	}
	entry.Type = domain.ContentImage
	entry.Content = ImagePrefix + desc
	entry.AuxData = map[string]any{
		"server_path": path,
		"client_path": turn.ImageClientPath,
	}
	return entry, nil
}

// commitTurn runs the turn's batched write on the background handle: agent
// entries and memory commands in one transaction, then the compaction check.
// Failures roll back and are logged; the turn is not retried.
func (o *Orchestrator) commitTurn(ctx context.Context, userID string, userEntry *domain.ConversationEntry, agentEntries []*domain.ConversationEntry, history string, retrieval *search.Result) {
	recent, err := o.bgMem.ReadRecentUpdates(ctx, userID)
	if err != nil {
		slog.WarnContext(ctx, "read recent updates failed", "user_id", userID, "error", err)
	}

	err = o.bgMem.Store().WithTx(ctx, func(txCtx context.Context) error {
		if err := o.bgMem.AppendConversations(txCtx, userID, agentEntries); err != nil {
			return err
		}
		var replies []string
		for _, e := range agentEntries {
			replies = append(replies, e.Content)
		}
		return o.writer.Run(txCtx, userID, memwrite.Input{
			UserInput:    userEntry.Content,
			AgentReplies: replies,
			History:      history,
			UsedIDs:      retrieval.UsedIDs,
			Recent:       recent,
		})
	})
	if err != nil {
		slog.ErrorContext(ctx, "background write failed, turn not persisted",
			"user_id", userID, "error", err)
		// The facade wrote through to the cache before the rollback; drop the
		// working set so no reader sees entries the log never recorded.
		if dropErr := o.bgMem.DropWorkingSet(ctx, userID); dropErr != nil {
			slog.ErrorContext(ctx, "working-set drop failed after rollback",
				"user_id", userID, "error", dropErr)
		}
		return
	}

	if err := o.summarizer.MaybeCompact(ctx, userID); err != nil {
		slog.WarnContext(ctx, "context compaction failed", "user_id", userID, "error", err)
	}
}

func buildAgentEntries(userID string, items []*chat.Item) []*domain.ConversationEntry {
	now := time.Now()
	var entries []*domain.ConversationEntry
	for _, item := range items {
		entry := &domain.ConversationEntry{
			UUID:      id.NewConversation(),
			UserID:    userID,
			Timestamp: now,
			Source:    domain.SourceAgent,
		}
		switch item.Type {
		case chat.ItemSay:
			entry.Type = domain.ContentText
			entry.Content = item.Say.Content
			entry.AuxData = map[string]any{
				"expression": item.Say.Expression,
				"tone":       item.Say.Tone,
			}
		case chat.ItemSing:
			entry.Type = domain.ContentSing
			entry.Content = fmt.Sprintf("（唱歌）：《%s》", item.Sing.SongName)
			entry.AuxData = map[string]any{
				"song_name": item.Sing.SongName,
				"segment":   item.Sing.Segment,
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func sourceLabel(s domain.Source) string {
	switch s {
	case domain.SourceUser:
		return "用户"
	case domain.SourceAgent:
		return "洛天依"
	default:
		return "系统"
	}
}

func renderHistory(summaryText string, entries []cache.CachedEntry) string {
	var b strings.Builder
	if summaryText != "" {
		fmt.Fprintf(&b, "此前对话的摘要：%s\n", summaryText)
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s: %s\n", e.Timestamp, sourceLabel(domain.Source(e.Source)), e.Content)
	}
	return b.String()
}

func (o *Orchestrator) userLock(userID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.locks == nil {
		o.locks = make(map[string]*sync.Mutex)
	}
	l, ok := o.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[userID] = l
	}
	return l
}
