package vision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	harborseal "github.com/holmes89/harbor-seal/lib"
)

type fakeModel struct {
	content  string
	err      error
	messages []llms.MessageContent
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.content}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, nil, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func TestAnalyzeBatch(t *testing.T) {
	model := &fakeModel{
		content: `{"images": [{"image_index": 1, "analysis": "bar chart of revenue"}, {"image_index": 2, "analysis": "company logo"}]}`,
	}
	analyzer := NewModelAnalyzer(model, zap.NewNop())

	results, err := analyzer.AnalyzeBatch(context.Background(), []Image{
		{Bytes: []byte("a"), MIME: "image/png"},
		{Bytes: []byte("b"), MIME: "image/jpeg"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[int]string{
		1: "bar chart of revenue",
		2: "company logo",
	}, results)

	// One human message carrying the prompt plus one binary part per image.
	require.Len(t, model.messages, 1)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[0].Role)
	assert.Len(t, model.messages[0].Parts, 3)
}

func TestAnalyzeBatchEmptyInput(t *testing.T) {
	analyzer := NewModelAnalyzer(&fakeModel{}, zap.NewNop())

	results, err := analyzer.AnalyzeBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAnalyzeBatchModelFailure(t *testing.T) {
	model := &fakeModel{err: errors.New("connection refused")}
	analyzer := NewModelAnalyzer(model, zap.NewNop())

	_, err := analyzer.AnalyzeBatch(context.Background(), []Image{{Bytes: []byte("a")}})
	require.Error(t, err)
	assert.ErrorIs(t, err, harborseal.ErrProvider)
}

func TestAnalyzeBatchMalformedResponse(t *testing.T) {
	model := &fakeModel{content: "I cannot analyze these images."}
	analyzer := NewModelAnalyzer(model, zap.NewNop())

	_, err := analyzer.AnalyzeBatch(context.Background(), []Image{{Bytes: []byte("a")}})
	require.Error(t, err)
	assert.ErrorIs(t, err, harborseal.ErrProvider)
}

func TestParseAnalysisCodeFence(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"plain", `{"images": [{"image_index": 1, "analysis": "x"}]}`},
		{"fenced", "```json\n{\"images\": [{\"image_index\": 1, \"analysis\": \"x\"}]}\n```"},
		{"bare fence", "```\n{\"images\": [{\"image_index\": 1, \"analysis\": \"x\"}]}\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := parseAnalysis(tt.content)
			require.NoError(t, err)
			require.Len(t, parsed.Images, 1)
			assert.Equal(t, 1, parsed.Images[0].ImageIndex)
			assert.Equal(t, "x", parsed.Images[0].Analysis)
		})
	}
}
