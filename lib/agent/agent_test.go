package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	harborseal "github.com/holmes89/harbor-seal/lib"
)

type mapCache struct {
	values map[string]string
}

func newMapCache() *mapCache {
	return &mapCache{values: make(map[string]string)}
}

func (m *mapCache) Get(_ context.Context, key string) (string, bool) {
	value, ok := m.values[key]
	return value, ok
}

func (m *mapCache) GetJSON(_ context.Context, key string, dest any) bool {
	raw, ok := m.values[key]
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(raw), dest) == nil
}

func (m *mapCache) Set(_ context.Context, key string, value any, _ time.Duration) bool {
	switch v := value.(type) {
	case string:
		m.values[key] = v
	case []byte:
		m.values[key] = string(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return false
		}
		m.values[key] = string(raw)
	}
	return true
}

func (m *mapCache) Delete(_ context.Context, key string) bool {
	delete(m.values, key)
	return true
}

func (m *mapCache) Clear(_ context.Context, _ string) int {
	n := len(m.values)
	m.values = make(map[string]string)
	return n
}

type fakeHandle struct {
	matches []harborseal.Retrieved
	queries []string
	err     error
}

func (f *fakeHandle) Search(_ context.Context, query string, _ int) ([]harborseal.Retrieved, error) {
	f.queries = append(f.queries, query)
	return f.matches, f.err
}

type fakeOrchestrator struct {
	handle  *fakeHandle
	loadErr error
	loads   int
}

func (f *fakeOrchestrator) Build(_ context.Context, _ string, _ []harborseal.ContentUnit) error {
	return nil
}

func (f *fakeOrchestrator) Load(_ context.Context, _ string) (harborseal.IndexHandle, error) {
	f.loads++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.handle, nil
}

func (f *fakeOrchestrator) Delete(_ context.Context, _ string) error { return nil }

// scriptedModel returns its responses in order, one per GenerateContent call.
type scriptedModel struct {
	responses []string
	errs      []error
	calls     [][]llms.MessageContent
}

func (s *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	call := len(s.calls)
	s.calls = append(s.calls, messages)
	if call < len(s.errs) && s.errs[call] != nil {
		return nil, s.errs[call]
	}
	content := ""
	if call < len(s.responses) {
		content = s.responses[call]
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: content}},
	}, nil
}

func (s *scriptedModel) Call(ctx context.Context, _ string, options ...llms.CallOption) (string, error) {
	resp, err := s.GenerateContent(ctx, nil, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func testDocument() *harborseal.Document {
	return &harborseal.Document{
		ID:           "doc-1",
		Name:         "report.pdf",
		CollectionID: "coll-1",
	}
}

func newTestAgent(orch *fakeOrchestrator, store *mapCache, model *scriptedModel) *Agent {
	return NewAgent(orch, store, model, Options{Model: "llama3.2"}, zap.NewNop())
}

func TestQueryRecordsExchange(t *testing.T) {
	orch := &fakeOrchestrator{handle: &fakeHandle{
		matches: []harborseal.Retrieved{{Text: "revenue grew 12%", PageNumber: 3}},
	}}
	store := newMapCache()
	model := &scriptedModel{responses: []string{"Revenue grew 12% year over year."}}
	a := newTestAgent(orch, store, model)

	answer, err := a.Query(context.Background(), testDocument(), "how did revenue change?")
	require.NoError(t, err)

	assert.Equal(t, "Revenue grew 12% year over year.", answer.Answer)
	assert.False(t, answer.Cached)
	assert.False(t, answer.Timestamp.IsZero())

	history := a.History(context.Background(), "doc-1")
	require.Len(t, history, 2)
	assert.Equal(t, harborseal.RoleUser, history[0].Role)
	assert.Equal(t, "how did revenue change?", history[0].Content)
	assert.Equal(t, harborseal.RoleAssistant, history[1].Role)
	assert.Equal(t, "Revenue grew 12% year over year.", history[1].Content)
	assert.False(t, history[1].Timestamp.Before(history[0].Timestamp))
}

func TestQueryReusesSession(t *testing.T) {
	orch := &fakeOrchestrator{handle: &fakeHandle{}}
	store := newMapCache()
	// Second query condenses first, then generates.
	model := &scriptedModel{responses: []string{"first answer", "condensed question", "second answer"}}
	a := newTestAgent(orch, store, model)
	ctx := context.Background()

	_, err := a.Query(ctx, testDocument(), "first?")
	require.NoError(t, err)
	answer, err := a.Query(ctx, testDocument(), "second?")
	require.NoError(t, err)

	assert.Equal(t, "second answer", answer.Answer)
	assert.Equal(t, 1, orch.loads, "index loaded once per session")
	assert.Equal(t, []string{"first?", "condensed question"}, orch.handle.queries)
	assert.Len(t, a.History(ctx, "doc-1"), 4)
}

func TestQueryRestoresPersistedHistory(t *testing.T) {
	orch := &fakeOrchestrator{handle: &fakeHandle{}}
	store := newMapCache()
	previous := []harborseal.ChatTurn{
		{Role: harborseal.RoleUser, Content: "old question", Timestamp: time.Now().Add(-time.Hour)},
		{Role: harborseal.RoleAssistant, Content: "old answer", Timestamp: time.Now().Add(-time.Hour)},
	}
	store.Set(context.Background(), historyKey("doc-1"), previous, time.Hour)

	// The restored memory is non-empty, so the first query condenses.
	model := &scriptedModel{responses: []string{"condensed", "new answer"}}
	a := newTestAgent(orch, store, model)

	_, err := a.Query(context.Background(), testDocument(), "follow up?")
	require.NoError(t, err)

	history := a.History(context.Background(), "doc-1")
	require.Len(t, history, 4)
	assert.Equal(t, "old question", history[0].Content)
	assert.Equal(t, "follow up?", history[2].Content)
}

func TestQueryGenerationFailureLeavesHistoryUntouched(t *testing.T) {
	orch := &fakeOrchestrator{handle: &fakeHandle{}}
	store := newMapCache()
	model := &scriptedModel{errs: []error{errors.New("model gone")}}
	a := newTestAgent(orch, store, model)

	_, err := a.Query(context.Background(), testDocument(), "anything?")
	require.Error(t, err)
	assert.ErrorIs(t, err, harborseal.ErrQuery)
	assert.Empty(t, a.History(context.Background(), "doc-1"))
}

func TestQueryUnknownIndex(t *testing.T) {
	orch := &fakeOrchestrator{loadErr: harborseal.ErrIndexNotFound}
	a := newTestAgent(orch, newMapCache(), &scriptedModel{})

	_, err := a.Query(context.Background(), testDocument(), "anything?")
	require.Error(t, err)
	assert.ErrorIs(t, err, harborseal.ErrIndexNotFound)
}

func TestHistoryEmptyWithoutSession(t *testing.T) {
	a := newTestAgent(&fakeOrchestrator{handle: &fakeHandle{}}, newMapCache(), &scriptedModel{})

	history := a.History(context.Background(), "never-seen")
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestClearIsIdempotent(t *testing.T) {
	orch := &fakeOrchestrator{handle: &fakeHandle{}}
	store := newMapCache()
	model := &scriptedModel{responses: []string{"answer", "condensed", "answer two"}}
	a := newTestAgent(orch, store, model)
	ctx := context.Background()

	_, err := a.Query(ctx, testDocument(), "q?")
	require.NoError(t, err)
	require.Len(t, a.History(ctx, "doc-1"), 2)

	a.Clear(ctx, "doc-1")
	assert.Empty(t, a.History(ctx, "doc-1"))

	// Clearing again is a no-op.
	a.Clear(ctx, "doc-1")

	// A new query starts a fresh session with a fresh index load.
	_, err = a.Query(ctx, testDocument(), "again?")
	require.NoError(t, err)
	assert.Equal(t, 2, orch.loads)
}

func TestMemoryBufferEvictsOldestWithinLimit(t *testing.T) {
	buffer := newMemoryBuffer("llama3.2", 10)
	buffer.add(harborseal.RoleUser, "the first question about the document contents and many more filler words to spend the whole token budget on")
	buffer.add(harborseal.RoleAssistant, "short")
	buffer.add(harborseal.RoleUser, "latest")

	require.NotEmpty(t, buffer.messages)
	last := buffer.messages[len(buffer.messages)-1]
	assert.Equal(t, "latest", last.content)
	assert.Less(t, len(buffer.messages), 3, "oldest turn evicted")
}

func TestMemoryBufferKeepsLastTurnEvenOverLimit(t *testing.T) {
	buffer := newMemoryBuffer("llama3.2", 1)
	buffer.add(harborseal.RoleUser, "a question far longer than a single token no matter how you count it")

	require.Len(t, buffer.messages, 1)
}
