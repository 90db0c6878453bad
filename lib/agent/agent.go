package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	harborseal "github.com/holmes89/harbor-seal/lib"
	"github.com/holmes89/harbor-seal/lib/cache"
)

// Agent answers questions about ingested documents, one conversational
// session per document id. Sessions are process-local; the persisted chat
// history in the cache is what survives a restart.
type Agent struct {
	indexes harborseal.IndexOrchestrator
	cache   cache.Cache
	llm     llms.Model
	logger  *zap.Logger

	model      string
	topK       int
	tokenLimit int
	historyTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

type Options struct {
	// Model is the generation model name, also used for token counting.
	Model string
	// TopK is the retrieval breadth per query.
	TopK int
	// TokenLimit bounds the in-memory conversation buffer.
	TokenLimit int
	// HistoryTTL bounds the cache-persisted history lifetime.
	HistoryTTL time.Duration
}

func NewAgent(
	indexes harborseal.IndexOrchestrator,
	store cache.Cache,
	llm llms.Model,
	opts Options,
	logger *zap.Logger,
) *Agent {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.TokenLimit <= 0 {
		opts.TokenLimit = 4000
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = 7200 * time.Second
	}
	return &Agent{
		indexes:    indexes,
		cache:      store,
		llm:        llm,
		logger:     logger,
		model:      opts.Model,
		topK:       opts.TopK,
		tokenLimit: opts.TokenLimit,
		historyTTL: opts.HistoryTTL,
		sessions:   make(map[string]*session),
	}
}

type session struct {
	history []harborseal.ChatTurn
	engine  *chatEngine
}

func historyKey(documentID string) string {
	return "chat:history:" + documentID
}

// Query answers a question about the document, recording the exchange in the
// persisted history. History is only written after a completed exchange: a
// generation failure leaves it untouched.
func (a *Agent) Query(ctx context.Context, document *harborseal.Document, question string) (*harborseal.Answer, error) {
	sess, err := a.getOrCreateSession(ctx, document)
	if err != nil {
		return nil, err
	}

	answer, err := sess.engine.chat(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w: %v", document.ID, harborseal.ErrQuery, err)
	}

	now := time.Now()
	sess.history = append(sess.history,
		harborseal.ChatTurn{Role: harborseal.RoleUser, Content: question, Timestamp: now},
		harborseal.ChatTurn{Role: harborseal.RoleAssistant, Content: answer, Timestamp: time.Now()},
	)
	a.cache.Set(ctx, historyKey(document.ID), sess.history, a.historyTTL)

	return &harborseal.Answer{
		Answer:    answer,
		Cached:    false,
		Timestamp: now,
	}, nil
}

// History returns the persisted turns for a document, oldest first. Absent
// history is an empty sequence, never an error.
func (a *Agent) History(ctx context.Context, documentID string) []harborseal.ChatTurn {
	var history []harborseal.ChatTurn
	if !a.cache.GetJSON(ctx, historyKey(documentID), &history) {
		return []harborseal.ChatTurn{}
	}
	return history
}

// Clear drops the in-memory session and deletes the persisted history. It is
// idempotent: clearing a document that has no session or history succeeds.
func (a *Agent) Clear(ctx context.Context, documentID string) {
	a.mu.Lock()
	delete(a.sessions, documentID)
	a.mu.Unlock()
	a.cache.Delete(ctx, historyKey(documentID))
	a.logger.Info("cleared session", zap.String("id", documentID))
}

// getOrCreateSession loads the document's index and primes a token-bounded
// memory from the persisted history on first access.
func (a *Agent) getOrCreateSession(ctx context.Context, document *harborseal.Document) (*session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sess, ok := a.sessions[document.ID]; ok {
		return sess, nil
	}

	handle, err := a.indexes.Load(ctx, document.CollectionID)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", document.ID, err)
	}

	history := []harborseal.ChatTurn{}
	a.cache.GetJSON(ctx, historyKey(document.ID), &history)

	memory := newMemoryBuffer(a.model, a.tokenLimit)
	for _, turn := range history {
		memory.add(turn.Role, turn.Content)
	}
	if len(history) > 0 {
		a.logger.Info("restored chat history",
			zap.String("id", document.ID),
			zap.Int("turns", len(history)))
	}

	sess := &session{
		history: history,
		engine: &chatEngine{
			llm:    a.llm,
			handle: handle,
			memory: memory,
			topK:   a.topK,
		},
	}
	a.sessions[document.ID] = sess
	return sess, nil
}
