package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	harborseal "github.com/holmes89/harbor-seal/lib"
)

// chatEngine runs a condense-plus-context loop over one loaded index: the
// question is first condensed against the conversation so far, the condensed
// form drives retrieval, and the answer is generated from the retrieved
// context plus the conversation memory.
type chatEngine struct {
	llm    llms.Model
	handle harborseal.IndexHandle
	memory *memoryBuffer
	topK   int
}

func (e *chatEngine) chat(ctx context.Context, question string) (string, error) {
	searchQuery := question
	if len(e.memory.messages) > 0 {
		condensed, err := e.condense(ctx, question)
		if err != nil {
			return "", err
		}
		searchQuery = condensed
	}

	results, err := e.handle.Search(ctx, searchQuery, e.topK)
	if err != nil {
		return "", err
	}

	answer, err := e.generate(ctx, question, results)
	if err != nil {
		return "", err
	}

	e.memory.add(harborseal.RoleUser, question)
	e.memory.add(harborseal.RoleAssistant, answer)
	return answer, nil
}

// condense rewrites a follow-up question as a standalone one so retrieval
// works without the conversation.
func (e *chatEngine) condense(ctx context.Context, question string) (string, error) {
	prompt := strings.Builder{}
	prompt.WriteString("Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question. Reply with the standalone question only.\n\nConversation:\n")
	for _, msg := range e.memory.messages {
		fmt.Fprintf(&prompt, "%s: %s\n", msg.role, msg.content)
	}
	fmt.Fprintf(&prompt, "\nFollow up question: %s\n", question)

	response, err := e.llm.GenerateContent(ctx, []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: prompt.String()}},
		},
	}, llms.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("condense question: %w", err)
	}
	condensed := firstChoice(response)
	if condensed == "" {
		return question, nil
	}
	return condensed, nil
}

func (e *chatEngine) generate(ctx context.Context, question string, results []harborseal.Retrieved) (string, error) {
	system := strings.Builder{}
	system.WriteString("You are a document inspector. Answer the question using only the following document excerpts. Say so when the excerpts do not contain the answer.\n\nExcerpts:\n")
	for i, res := range results {
		label := fmt.Sprintf("page %d", res.PageNumber)
		if res.ImageIndex > 0 {
			label = fmt.Sprintf("page %d, image %d", res.PageNumber, res.ImageIndex)
		}
		fmt.Fprintf(&system, "%d. (%s) %s\n", i+1, label, res.Text)
	}

	messages := make([]llms.MessageContent, 0, len(e.memory.messages)+2)
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeSystem,
		Parts: []llms.ContentPart{llms.TextContent{Text: system.String()}},
	})
	for _, msg := range e.memory.messages {
		role := llms.ChatMessageTypeHuman
		if msg.role == harborseal.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextContent{Text: msg.content}},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextContent{Text: question}},
	})

	response, err := e.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	answer := firstChoice(response)
	if answer == "" {
		return "", fmt.Errorf("generate answer: empty response")
	}
	return answer, nil
}

func firstChoice(response *llms.ContentResponse) string {
	if response == nil || len(response.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(response.Choices[0].Content)
}

type memoryMessage struct {
	role    string
	content string
	tokens  int
}

// memoryBuffer is a token-bounded conversation window. Oldest messages are
// evicted once the budget is exceeded.
type memoryBuffer struct {
	model    string
	limit    int
	total    int
	messages []memoryMessage
}

func newMemoryBuffer(model string, limit int) *memoryBuffer {
	return &memoryBuffer{
		model: model,
		limit: limit,
	}
}

func (m *memoryBuffer) add(role, content string) {
	tokens := llms.CountTokens(m.model, content)
	m.messages = append(m.messages, memoryMessage{role: role, content: content, tokens: tokens})
	m.total += tokens
	for m.total > m.limit && len(m.messages) > 1 {
		m.total -= m.messages[0].tokens
		m.messages = m.messages[1:]
	}
}
