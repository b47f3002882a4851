// Package catalog holds the built-in tool declarations and the handlers that
// bind them to the knowledge-base, document-generation and web-research
// collaborators. Collaborators are passed in; the package keeps no globals.
package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/martinemde/dome/tools"
)

//go:embed tools.yaml
var builtinYAML []byte

// ErrNotFound is returned by collaborators for unknown ids.
var ErrNotFound = errors.New("catalog: not found")

// Declarations returns the built-in tool declarations.
func Declarations() ([]tools.Declaration, error) {
	return ParseDeclarations(builtinYAML)
}

// ParseDeclarations decodes a YAML list of tool declarations.
func ParseDeclarations(data []byte) ([]tools.Declaration, error) {
	var decls []tools.Declaration
	if err := yaml.Unmarshal(data, &decls); err != nil {
		return nil, fmt.Errorf("parse tool declarations: %w", err)
	}
	for i := range decls {
		if decls[i].Parameters.Type == "" {
			decls[i].Parameters.Type = "object"
		}
	}
	return decls, nil
}

// ResourceKind classifies knowledge-base resources.
type ResourceKind string

const (
	KindNote         ResourceKind = "note"
	KindFolder       ResourceKind = "folder"
	KindDocument     ResourceKind = "document"
	KindDeck         ResourceKind = "deck"
	KindSpreadsheet  ResourceKind = "spreadsheet"
	KindPresentation ResourceKind = "presentation"
	KindLink         ResourceKind = "link"
)

// Resource is one knowledge-base entry.
type Resource struct {
	ID        string       `json:"id"`
	ParentID  string       `json:"parent_id,omitempty"`
	Kind      ResourceKind `json:"kind"`
	Title     string       `json:"title"`
	Content   string       `json:"content,omitempty"`
	Tags      []string     `json:"tags,omitempty"`
	Cards     []Flashcard  `json:"cards,omitempty"`
	// ArtifactID links a resource to a generated file.
	ArtifactID string    `json:"artifact_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Flashcard is one card of a deck.
type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// SearchHit is a search result.
type SearchHit struct {
	ID      string       `json:"id"`
	Kind    ResourceKind `json:"kind"`
	Title   string       `json:"title"`
	Snippet string       `json:"snippet,omitempty"`
	Score   int          `json:"score"`
}

// SearchQuery filters a knowledge-base search.
type SearchQuery struct {
	Text  string
	Kind  ResourceKind
	Limit int
}

// ResourcePatch holds the fields of an update. Nil fields are unchanged.
type ResourcePatch struct {
	Title   *string
	Content *string
	Tags    []string
}

// KnowledgeBase is the resource store the library and writer agents use.
type KnowledgeBase interface {
	Search(ctx context.Context, q SearchQuery) ([]SearchHit, error)
	Get(ctx context.Context, id string) (Resource, error)
	List(ctx context.Context, parentID string) ([]Resource, error)
	Create(ctx context.Context, r Resource) (Resource, error)
	Update(ctx context.Context, id string, patch ResourcePatch) (Resource, error)
	Delete(ctx context.Context, id string) error
	Move(ctx context.Context, id, newParentID string) (Resource, error)
}

// ArtifactKind classifies generated files.
type ArtifactKind string

const (
	ArtifactDocument     ArtifactKind = "document"
	ArtifactSpreadsheet  ArtifactKind = "spreadsheet"
	ArtifactPresentation ArtifactKind = "presentation"
)

// Artifact is a generated file.
type Artifact struct {
	ID        string       `json:"id"`
	Kind      ArtifactKind `json:"kind"`
	Title     string       `json:"title"`
	Path      string       `json:"path"`
	Format    string       `json:"format"`
	CreatedAt time.Time    `json:"created_at"`
}

// ArtifactContent is the readable content of an artifact.
type ArtifactContent struct {
	Artifact
	Text    string      `json:"text,omitempty"`
	Columns []string    `json:"columns,omitempty"`
	Rows    [][]string  `json:"rows,omitempty"`
	Slides  []SlideText `json:"slides,omitempty"`
}

// SlideText is the extracted text of one slide.
type SlideText struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// DocumentSpec describes a Markdown document.
type DocumentSpec struct {
	Title   string
	Content string
}

// SpreadsheetSpec describes a table.
type SpreadsheetSpec struct {
	Title   string
	Columns []string
	Rows    [][]string
}

// PresentationSpec describes a slide deck.
type PresentationSpec struct {
	Title  string  `json:"title"`
	Theme  string  `json:"theme,omitempty"`
	Slides []Slide `json:"slides"`
}

// Slide is one slide of a PresentationSpec.
type Slide struct {
	Layout    string    `json:"layout,omitempty"`
	Title     string    `json:"title,omitempty"`
	Subtitle  string    `json:"subtitle,omitempty"`
	Bullets   []string  `json:"bullets,omitempty"`
	Textboxes []Textbox `json:"textboxes,omitempty"`
}

// Textbox is a free-positioned text box, in inches.
type Textbox struct {
	Text   string  `json:"text"`
	Left   float64 `json:"left,omitempty"`
	Top    float64 `json:"top,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// Generator creates, reads and exports documents, spreadsheets and
// presentations.
type Generator interface {
	CreateDocument(ctx context.Context, spec DocumentSpec) (Artifact, error)
	CreateSpreadsheet(ctx context.Context, spec SpreadsheetSpec) (Artifact, error)
	CreatePresentation(ctx context.Context, spec PresentationSpec) (Artifact, error)
	Get(ctx context.Context, id string) (ArtifactContent, error)
	Export(ctx context.Context, id, format string) (Artifact, error)
}

// WebPage is fetched page text.
type WebPage struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
}

// WebResult is one web search hit.
type WebResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// WebResearcher searches and fetches web pages.
type WebResearcher interface {
	Search(ctx context.Context, query string, limit int) ([]WebResult, error)
	Fetch(ctx context.Context, url string, maxChars int) (WebPage, error)
}
