package segment

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageImage is one embedded image pulled out of a PDF, tagged with the
// 1-based page it came from.
type PageImage struct {
	Page  int
	Bytes []byte
	MIME  string
}

// ImageExtractor pulls embedded images out of a PDF into dir and returns
// them in page order.
type ImageExtractor interface {
	ExtractImages(path, dir string) ([]PageImage, error)
}

var _ ImageExtractor = (PDFCPUExtractor{})

// PDFCPUExtractor extracts images with pdfcpu, which writes one file per
// image named <base>_<page>_<name>.<ext> into dir.
type PDFCPUExtractor struct{}

// extracted filenames look like "report_12_Im0.jpg".
var imageFilePattern = regexp.MustCompile(`_(\d+)_([^_.]+)\.[A-Za-z]+$`)

func (PDFCPUExtractor) ExtractImages(path, dir string) ([]PageImage, error) {
	if err := api.ExtractImagesFile(path, dir, nil, nil); err != nil {
		return nil, fmt.Errorf("extract images from %s: %w", path, err)
	}
	return collectImages(dir)
}

// collectImages reads the extracted files back in document order. ReadDir is
// lexicographic, which would put Im10 before Im2, so ordering within a page
// follows the numeric suffix of the image name.
func collectImages(dir string) ([]PageImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read extracted images: %w", err)
	}

	type extracted struct {
		image PageImage
		order int
		name  string
	}
	var images []extracted
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := imageFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		page, err := strconv.Atoi(match[1])
		if err != nil || page < 1 {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read extracted image %s: %w", entry.Name(), err)
		}
		images = append(images, extracted{
			image: PageImage{
				Page:  page,
				Bytes: data,
				MIME:  mimeForFile(entry.Name()),
			},
			order: imageOrder(match[2]),
			name:  match[2],
		})
	}
	sort.SliceStable(images, func(i, j int) bool {
		a, b := images[i], images[j]
		if a.image.Page != b.image.Page {
			return a.image.Page < b.image.Page
		}
		if a.order != b.order {
			return a.order < b.order
		}
		return a.name < b.name
	})

	result := make([]PageImage, len(images))
	for i, img := range images {
		result[i] = img.image
	}
	return result, nil
}

var imageNameDigits = regexp.MustCompile(`\d+$`)

func imageOrder(name string) int {
	digits := imageNameDigits.FindString(name)
	if digits == "" {
		return -1
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return -1
	}
	return n
}

func mimeForFile(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "image/jpeg"
}
