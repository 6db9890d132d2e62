// Package docstore provides read-only access to stored documents and derives
// the routing signals the pipeline inspects before choosing a strategy.
package docstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/docuflow/docuflow/internal/db/models"
)

// Store is the narrow contract the pipeline consumes from the document store.
type Store interface {
	// Fetch returns the document bytes for an opaque document ref.
	Fetch(ctx context.Context, documentRef string) ([]byte, error)
}

// FileStore serves documents from a local directory. Document refs are paths
// relative to the root.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at the given directory.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Fetch reads the document bytes. Refs escaping the root are rejected.
func (s *FileStore) Fetch(_ context.Context, documentRef string) ([]byte, error) {
	path := filepath.Join(s.root, filepath.Clean("/"+documentRef))
	if !strings.HasPrefix(path, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return nil, fmt.Errorf("document ref %q escapes store root", documentRef)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document %q: %w", documentRef, err)
	}
	return data, nil
}

// Analyze derives routing signals from raw document bytes. The heuristics are
// deliberately cheap; they only need to be good enough to pick a strategy,
// not to understand the document.
func Analyze(content []byte) models.RoutingSignal {
	signal := models.RoutingSignal{
		PageCount: pageCount(content),
	}
	signal.ContentDensity = contentDensity(content)
	signal.StructuredRegionRatio, signal.HasTabularRegions = structuredRegions(content)
	return signal
}

// pageCount asks pdfcpu for the page count, falling back to 1 for content
// that is not a readable PDF.
func pageCount(content []byte) int {
	count, err := api.PageCount(bytes.NewReader(content), nil)
	if err != nil || count < 1 {
		return 1
	}
	return count
}

// contentDensity estimates how much of the raw stream is printable content.
func contentDensity(content []byte) float64 {
	if len(content) == 0 {
		return 0
	}
	printable := 0
	for _, b := range content {
		if b >= 0x20 && b < 0x7f {
			printable++
		}
	}
	return float64(printable) / float64(len(content))
}

// structuredRegions scans for PDF structure markers that indicate tables and
// form fields. The ratio is the share of structure markers among all content
// stream markers found.
func structuredRegions(content []byte) (float64, bool) {
	structured := bytes.Count(content, []byte("/Table")) +
		bytes.Count(content, []byte("/TH")) +
		bytes.Count(content, []byte("/TD")) +
		bytes.Count(content, []byte("/AcroForm"))
	unstructured := bytes.Count(content, []byte("/P ")) +
		bytes.Count(content, []byte("/Figure")) +
		bytes.Count(content, []byte("/Span"))

	total := structured + unstructured
	if total == 0 {
		return 0, false
	}
	return float64(structured) / float64(total), structured > 0
}
