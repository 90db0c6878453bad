package segment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	harborseal "github.com/holmes89/harbor-seal/lib"
	"github.com/holmes89/harbor-seal/lib/vision"
)

const (
	// Sentinel texts for images the analysis capability could not cover.
	analysisMissing = "[Analysis missing]"
	analysisFailed  = "[Image analysis failed]"

	defaultBatchSize = 20
)

var _ harborseal.Segmenter = (*PDFSegmenter)(nil)

// PDFSegmenter turns a PDF on disk into uniform content units: one per page
// of text, plus one per analyzed embedded image when image analysis is on.
type PDFSegmenter struct {
	analyzer   vision.Analyzer
	extractor  ImageExtractor
	scratchDir string
	batchSize  int
	withImages bool
	logger     *zap.Logger
}

type Option func(*PDFSegmenter)

// WithImageAnalysis enables per-image analysis through the given capability.
func WithImageAnalysis(analyzer vision.Analyzer) Option {
	return func(s *PDFSegmenter) {
		s.analyzer = analyzer
		s.withImages = true
	}
}

func WithBatchSize(size int) Option {
	return func(s *PDFSegmenter) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

func WithImageExtractor(extractor ImageExtractor) Option {
	return func(s *PDFSegmenter) {
		s.extractor = extractor
	}
}

func NewPDFSegmenter(scratchDir string, logger *zap.Logger, opts ...Option) *PDFSegmenter {
	s := &PDFSegmenter{
		extractor:  PDFCPUExtractor{},
		scratchDir: scratchDir,
		batchSize:  defaultBatchSize,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Segment extracts per-page text and optional image analyses from the PDF at
// path. Scratch files are purged before it returns, success or failure.
func (s *PDFSegmenter) Segment(ctx context.Context, path string) ([]harborseal.ContentUnit, error) {
	if err := validatePDFPath(path); err != nil {
		return nil, err
	}
	defer s.Cleanup()

	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w: %v", path, harborseal.ErrInvalidInput, err)
	}
	defer file.Close()

	var units []harborseal.ContentUnit
	for i := 1; i <= reader.NumPage(); i++ {
		var text string
		page := reader.Page(i)
		if page.V.IsNull() {
			// An unreadable page still gets a unit so page numbering
			// stays contiguous.
			s.logger.Warn("unreadable page",
				zap.String("path", path),
				zap.Int("page", i))
		} else if extracted, err := page.GetPlainText(nil); err != nil {
			s.logger.Warn("failed to extract page text",
				zap.String("path", path),
				zap.Int("page", i),
				zap.Error(err))
		} else {
			text = extracted
		}
		units = append(units, harborseal.ContentUnit{
			Text:       text,
			PageNumber: i,
			Path:       path,
		})
	}

	if s.withImages {
		imageUnits, err := s.segmentImages(ctx, path)
		if err != nil {
			return nil, err
		}
		units = append(units, imageUnits...)
	}

	s.logger.Info("segmented document",
		zap.String("path", path),
		zap.Int("pages", reader.NumPage()),
		zap.Int("units", len(units)))
	return units, nil
}

func (s *PDFSegmenter) segmentImages(ctx context.Context, path string) ([]harborseal.ContentUnit, error) {
	if err := os.MkdirAll(s.scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	images, err := s.extractor.ExtractImages(path, s.scratchDir)
	if err != nil {
		// Extraction problems degrade to a text-only segmentation rather
		// than failing the whole ingest.
		s.logger.Warn("image extraction failed", zap.String("path", path), zap.Error(err))
		return nil, nil
	}
	if len(images) == 0 {
		return nil, nil
	}
	s.logger.Info("processing images in batch", zap.String("path", path), zap.Int("count", len(images)))

	analyses := s.analyzeAll(ctx, images)

	units := make([]harborseal.ContentUnit, 0, len(images))
	perPage := make(map[int]int)
	for i, img := range images {
		perPage[img.Page]++
		units = append(units, harborseal.ContentUnit{
			Text:       analyses[i],
			PageNumber: img.Page,
			Path:       path,
			ImageIndex: perPage[img.Page],
		})
	}
	return units, nil
}

// analyzeAll runs the extracted images through the analyzer in fixed-size
// batches. Its result always has one entry per input image: indices the
// provider skipped get the missing sentinel, and a failed batch call fills
// that whole batch with the failure sentinel instead of aborting.
func (s *PDFSegmenter) analyzeAll(ctx context.Context, images []PageImage) []string {
	results := make([]string, 0, len(images))
	for start := 0; start < len(images); start += s.batchSize {
		end := min(start+s.batchSize, len(images))
		batch := make([]vision.Image, 0, end-start)
		for _, img := range images[start:end] {
			batch = append(batch, vision.Image{Bytes: img.Bytes, MIME: img.MIME})
		}

		analyses, err := s.analyzer.AnalyzeBatch(ctx, batch)
		if err != nil {
			s.logger.Error("image batch analysis failed",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			for range batch {
				results = append(results, analysisFailed)
			}
			continue
		}
		for i := range batch {
			analysis, ok := analyses[i+1]
			if !ok {
				analysis = analysisMissing
			}
			results = append(results, analysis)
		}
	}
	return results
}

// Cleanup purges everything under the scratch directory.
func (s *PDFSegmenter) Cleanup() {
	entries, err := os.ReadDir(s.scratchDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		target := filepath.Join(s.scratchDir, entry.Name())
		if err := os.RemoveAll(target); err != nil {
			s.logger.Warn("failed to remove scratch file", zap.String("path", target), zap.Error(err))
		}
	}
}

func validatePDFPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file %s: %w: %v", path, harborseal.ErrInvalidInput, err)
	}
	if info.IsDir() {
		return fmt.Errorf("file %s is a directory: %w", path, harborseal.ErrInvalidInput)
	}
	if strings.ToLower(filepath.Ext(path)) != ".pdf" {
		return fmt.Errorf("file %s: only PDF files are supported: %w", path, harborseal.ErrInvalidInput)
	}
	return nil
}
