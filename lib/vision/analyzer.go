package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	harborseal "github.com/holmes89/harbor-seal/lib"
)

// Image is one raw embedded image handed over for analysis.
type Image struct {
	Bytes []byte
	MIME  string
}

// Analyzer sends a batch of images to a vision-capable model and returns a
// 1-based index to analysis mapping. Indices absent from the response are the
// caller's problem to fill.
type Analyzer interface {
	AnalyzeBatch(ctx context.Context, images []Image) (map[int]string, error)
}

var _ Analyzer = (*ModelAnalyzer)(nil)

// ModelAnalyzer batches images into one multimodal GenerateContent call and
// parses the structured JSON reply.
type ModelAnalyzer struct {
	model  llms.Model
	logger *zap.Logger
}

func NewModelAnalyzer(model llms.Model, logger *zap.Logger) *ModelAnalyzer {
	return &ModelAnalyzer{
		model:  model,
		logger: logger,
	}
}

const analysisPrompt = `Analyze each image extracted from a PDF.
For each image:
- Perform OCR (extract visible text)
- Describe the content
- Explain its purpose
- For diagrams/graphs, explain data and relationships

Respond with JSON only, in the form:
{"images": [{"image_index": 1, "analysis": "..."}]}
Image indices are 1-based in the order the images appear.`

type analysisResponse struct {
	Images []imageAnalysis `json:"images"`
}

type imageAnalysis struct {
	ImageIndex int    `json:"image_index"`
	Analysis   string `json:"analysis"`
}

func (a *ModelAnalyzer) AnalyzeBatch(ctx context.Context, images []Image) (map[int]string, error) {
	if len(images) == 0 {
		return map[int]string{}, nil
	}

	parts := make([]llms.ContentPart, 0, len(images)+1)
	parts = append(parts, llms.TextPart(analysisPrompt))
	for _, img := range images {
		mime := img.MIME
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, llms.BinaryPart(mime, img.Bytes))
	}

	response, err := a.model.GenerateContent(ctx, []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: parts,
		},
	}, llms.WithJSONMode(), llms.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("analyze %d images: %w: %v", len(images), harborseal.ErrProvider, err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("analyze %d images: %w: empty response", len(images), harborseal.ErrProvider)
	}

	parsed, err := parseAnalysis(response.Choices[0].Content)
	if err != nil {
		return nil, fmt.Errorf("analyze %d images: %w: %v", len(images), harborseal.ErrProvider, err)
	}

	results := make(map[int]string, len(parsed.Images))
	for _, img := range parsed.Images {
		results[img.ImageIndex] = img.Analysis
	}
	a.logger.Debug("analyzed image batch",
		zap.Int("sent", len(images)),
		zap.Int("returned", len(results)))
	return results, nil
}

// parseAnalysis tolerates models that wrap the JSON payload in a code fence.
func parseAnalysis(content string) (*analysisResponse, error) {
	content = strings.TrimSpace(content)
	if after, found := strings.CutPrefix(content, "```json"); found {
		content = after
	} else if after, found := strings.CutPrefix(content, "```"); found {
		content = after
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")

	var parsed analysisResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}
	return &parsed, nil
}
