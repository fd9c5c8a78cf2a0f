// Package importer turns recorded browser traffic into replayable events.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/cookielens/internal/cdp"
)

// Common errors
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrParseError        = errors.New("parse error")
)

// Format represents a supported import format.
type Format string

const (
	FormatAuto   Format = "auto"
	FormatHAR    Format = "har"
	FormatCDPLog Format = "cdp"
)

// Importer converts recorded traffic into events.
type Importer interface {
	// Name returns the name of this importer.
	Name() string

	// Format returns the format this importer handles.
	Format() Format

	// FileExtensions returns the file extensions this importer can handle.
	FileExtensions() []string

	// DetectFormat checks if the content matches this importer's format.
	DetectFormat(content []byte) bool

	// Import parses the content into events.
	Import(ctx context.Context, content []byte) (*Result, error)
}

// Result contains the result of an import operation.
type Result struct {
	Events        []cdp.Event
	Tabs          []string
	Warnings      []string
	SourceFormat  Format
	SourceVersion string
}

// PrefixTabs renames every tab to prefix/tab so results from several files
// can share one store.
func (r *Result) PrefixTabs(prefix string) {
	if prefix == "" {
		return
	}
	for i := range r.Events {
		r.Events[i].TabID = prefix + "/" + r.Events[i].TabID
	}
	for i := range r.Tabs {
		r.Tabs[i] = prefix + "/" + r.Tabs[i]
	}
}

// Registry holds all registered importers. Detection tries importers in
// registration order.
type Registry struct {
	importers map[Format]Importer
	order     []Format
}

// NewRegistry creates a new importer registry.
func NewRegistry() *Registry {
	return &Registry{
		importers: make(map[Format]Importer),
	}
}

// NewDefaultRegistry returns a registry with the HAR and event-log importers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewHARImporter())
	r.Register(NewCDPLogImporter())
	return r
}

// Register adds an importer to the registry.
func (r *Registry) Register(imp Importer) {
	if _, exists := r.importers[imp.Format()]; !exists {
		r.order = append(r.order, imp.Format())
	}
	r.importers[imp.Format()] = imp
}

// Get returns an importer by format.
func (r *Registry) Get(format Format) (Importer, bool) {
	imp, ok := r.importers[format]
	return imp, ok
}

// DetectAndImport automatically detects the format and imports the content.
func (r *Registry) DetectAndImport(ctx context.Context, content []byte) (*Result, error) {
	for _, f := range r.order {
		imp := r.importers[f]
		if imp.DetectFormat(content) {
			return r.run(ctx, imp, content)
		}
	}
	return nil, ErrUnsupportedFormat
}

// Import imports content using the specified format.
func (r *Registry) Import(ctx context.Context, format Format, content []byte) (*Result, error) {
	if format == FormatAuto || format == "" {
		return r.DetectAndImport(ctx, content)
	}

	imp, ok := r.importers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return r.run(ctx, imp, content)
}

// ImportFile reads path and imports it. With FormatAuto the file extension
// is tried before content detection.
func (r *Registry) ImportFile(ctx context.Context, format Format, path string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if format == FormatAuto || format == "" {
		if imp := r.byExtension(path); imp != nil && imp.DetectFormat(content) {
			return r.run(ctx, imp, content)
		}
	}
	return r.Import(ctx, format, content)
}

func (r *Registry) byExtension(path string) Importer {
	ext := strings.ToLower(filepath.Ext(path))
	for _, f := range r.order {
		for _, e := range r.importers[f].FileExtensions() {
			if e == ext {
				return r.importers[f]
			}
		}
	}
	return nil
}

func (r *Registry) run(ctx context.Context, imp Importer, content []byte) (*Result, error) {
	res, err := imp.Import(ctx, content)
	if err != nil {
		return nil, err
	}
	res.SourceFormat = imp.Format()
	return res, nil
}

// ListFormats returns all registered formats.
func (r *Registry) ListFormats() []Format {
	formats := make([]Format, len(r.order))
	copy(formats, r.order)
	return formats
}
