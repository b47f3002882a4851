package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/martinemde/dome/tools"
)

// Handlers binds built-in tool names to collaborators. A nil collaborator
// leaves its tools unbound, so calls to them report "Tool not supported".
type Handlers struct {
	KB  KnowledgeBase
	Gen Generator
	Web WebResearcher
}

// Lookup implements tools.Lookup.
func (h Handlers) Lookup(name string) tools.Handler {
	return h.table()[name]
}

// Names returns the tool names that have a bound handler.
func (h Handlers) Names() []string {
	var out []string
	for name := range h.table() {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (h Handlers) table() map[string]tools.Handler {
	m := map[string]tools.Handler{}
	if h.KB != nil {
		m["resource_search"] = h.resourceSearch
		m["resource_get"] = h.resourceGet
		m["resource_list"] = h.resourceList
		m["resource_create"] = h.resourceCreate
		m["resource_update"] = h.resourceUpdate
		m["resource_delete"] = h.resourceDelete
		m["resource_move"] = h.resourceMove
		m["flashcard_create"] = h.flashcardCreate
	}
	if h.Gen != nil {
		m["document_export"] = h.export
		m["spreadsheet_create"] = h.spreadsheetCreate
		m["spreadsheet_get"] = h.artifactGet
		m["spreadsheet_export"] = h.export
		m["presentation_create"] = h.presentationCreate
		m["presentation_get"] = h.artifactGet
		m["presentation_export"] = h.export
	}
	if h.KB != nil && h.Gen != nil {
		m["document_create"] = h.documentCreate
	}
	if h.Web != nil {
		m["web_search"] = h.webSearch
		m["web_fetch"] = h.webFetch
	}
	return m
}

func required(args tools.Args, key string) (string, error) {
	s, ok := args.String(key)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

func (h Handlers) resourceSearch(ctx context.Context, args tools.Args) (any, error) {
	query, err := required(args, "query")
	if err != nil {
		return nil, err
	}
	hits, err := h.KB.Search(ctx, SearchQuery{
		Text:  query,
		Kind:  ResourceKind(args.StringOr("kind", "")),
		Limit: args.IntOr("limit", 10),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": hits, "count": len(hits)}, nil
}

func (h Handlers) resourceGet(ctx context.Context, args tools.Args) (any, error) {
	id, err := required(args, "resource_id")
	if err != nil {
		return nil, err
	}
	r, err := h.KB.Get(ctx, id)
	if err != nil {
		return nil, notFound("resource", id, err)
	}
	return r, nil
}

func (h Handlers) resourceList(ctx context.Context, args tools.Args) (any, error) {
	parent := args.StringOr("parent_id", "")
	items, err := h.KB.List(ctx, parent)
	if err != nil {
		return nil, notFound("folder", parent, err)
	}
	return map[string]any{"parent_id": parent, "resources": items}, nil
}

func (h Handlers) resourceCreate(ctx context.Context, args tools.Args) (any, error) {
	title, err := required(args, "title")
	if err != nil {
		return nil, err
	}
	tags, _ := args.Strings("tags")
	r, err := h.KB.Create(ctx, Resource{
		Title:    title,
		Kind:     ResourceKind(args.StringOr("kind", string(KindNote))),
		Content:  args.StringOr("content", ""),
		ParentID: args.StringOr("parent_id", ""),
		Tags:     tags,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"created": r.ID, "resource": r}, nil
}

func (h Handlers) resourceUpdate(ctx context.Context, args tools.Args) (any, error) {
	id, err := required(args, "resource_id")
	if err != nil {
		return nil, err
	}
	var patch ResourcePatch
	if s, ok := args.String("title"); ok {
		patch.Title = &s
	}
	if s, ok := args.String("content"); ok {
		patch.Content = &s
	}
	if tags, ok := args.Strings("tags"); ok {
		patch.Tags = tags
	}
	if patch.Title == nil && patch.Content == nil && patch.Tags == nil {
		return nil, errors.New("nothing to update: give title, content or tags")
	}
	r, err := h.KB.Update(ctx, id, patch)
	if err != nil {
		return nil, notFound("resource", id, err)
	}
	return map[string]any{"updated": r.ID, "resource": r}, nil
}

func (h Handlers) resourceDelete(ctx context.Context, args tools.Args) (any, error) {
	id, err := required(args, "resource_id")
	if err != nil {
		return nil, err
	}
	if err := h.KB.Delete(ctx, id); err != nil {
		return nil, notFound("resource", id, err)
	}
	return map[string]any{"deleted": id}, nil
}

func (h Handlers) resourceMove(ctx context.Context, args tools.Args) (any, error) {
	id, err := required(args, "resource_id")
	if err != nil {
		return nil, err
	}
	r, err := h.KB.Move(ctx, id, args.StringOr("new_parent_id", ""))
	if err != nil {
		return nil, notFound("resource", id, err)
	}
	return map[string]any{"moved": r.ID, "parent_id": r.ParentID}, nil
}

func (h Handlers) flashcardCreate(ctx context.Context, args tools.Args) (any, error) {
	title, err := required(args, "title")
	if err != nil {
		return nil, err
	}
	var cards []Flashcard
	if err := args.Decode("cards", &cards); err != nil {
		return nil, fmt.Errorf("cards must be a list of {front, back} objects: %w", err)
	}
	kept := cards[:0]
	for _, c := range cards {
		if strings.TrimSpace(c.Front) == "" || strings.TrimSpace(c.Back) == "" {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return nil, errors.New("a deck needs at least one card with a front and a back")
	}
	r, err := h.KB.Create(ctx, Resource{
		Title:    title,
		Kind:     KindDeck,
		ParentID: args.StringOr("parent_id", ""),
		Cards:    kept,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"created": r.ID, "title": r.Title, "cards": len(kept)}, nil
}

func (h Handlers) documentCreate(ctx context.Context, args tools.Args) (any, error) {
	title, err := required(args, "title")
	if err != nil {
		return nil, err
	}
	content, err := required(args, "content")
	if err != nil {
		return nil, err
	}
	a, err := h.Gen.CreateDocument(ctx, DocumentSpec{Title: title, Content: content})
	if err != nil {
		return nil, err
	}
	r, err := h.KB.Create(ctx, Resource{
		Title:      title,
		Kind:       KindDocument,
		Content:    content,
		ParentID:   args.StringOr("parent_id", ""),
		ArtifactID: a.ID,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"created": r.ID, "artifact": a}, nil
}

func (h Handlers) spreadsheetCreate(ctx context.Context, args tools.Args) (any, error) {
	title, err := required(args, "title")
	if err != nil {
		return nil, err
	}
	columns, ok := args.Strings("columns")
	if !ok || len(columns) == 0 {
		return nil, errors.New("columns must be a non-empty list of strings")
	}
	var raw [][]any
	if args.Has("rows") {
		if err := args.Decode("rows", &raw); err != nil {
			return nil, fmt.Errorf("rows must be arrays of cell values: %w", err)
		}
	}
	rows := make([][]string, len(raw))
	for i, r := range raw {
		row := make([]string, len(r))
		for j, cell := range r {
			row[j] = cellString(cell)
		}
		rows[i] = row
	}
	a, err := h.Gen.CreateSpreadsheet(ctx, SpreadsheetSpec{Title: title, Columns: columns, Rows: rows})
	if err != nil {
		return nil, err
	}
	return map[string]any{"artifact": a, "rows": len(rows)}, nil
}

func (h Handlers) presentationCreate(ctx context.Context, args tools.Args) (any, error) {
	title, err := required(args, "title")
	if err != nil {
		return nil, err
	}
	var slides []Slide
	if err := args.Decode("slides", &slides); err != nil {
		return nil, fmt.Errorf("slides must be a list of slide objects: %w", err)
	}
	if len(slides) == 0 {
		return nil, errors.New("a presentation needs at least one slide")
	}
	a, err := h.Gen.CreatePresentation(ctx, PresentationSpec{
		Title:  title,
		Theme:  args.StringOr("theme", ""),
		Slides: slides,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"artifact": a, "slides": len(slides)}, nil
}

func (h Handlers) artifactGet(ctx context.Context, args tools.Args) (any, error) {
	id, err := required(args, "artifact_id")
	if err != nil {
		return nil, err
	}
	c, err := h.Gen.Get(ctx, id)
	if err != nil {
		return nil, notFound("artifact", id, err)
	}
	return c, nil
}

func (h Handlers) export(ctx context.Context, args tools.Args) (any, error) {
	id, err := required(args, "artifact_id")
	if err != nil {
		return nil, err
	}
	a, err := h.Gen.Export(ctx, id, args.StringOr("format", ""))
	if err != nil {
		return nil, notFound("artifact", id, err)
	}
	return map[string]any{"exported": a.ID, "path": a.Path, "format": a.Format}, nil
}

func (h Handlers) webSearch(ctx context.Context, args tools.Args) (any, error) {
	query, err := required(args, "query")
	if err != nil {
		return nil, err
	}
	results, err := h.Web.Search(ctx, query, args.IntOr("limit", 5))
	if err != nil {
		return nil, err
	}
	return map[string]any{"query": query, "results": results}, nil
}

func (h Handlers) webFetch(ctx context.Context, args tools.Args) (any, error) {
	url, err := required(args, "url")
	if err != nil {
		return nil, err
	}
	return h.Web.Fetch(ctx, url, args.IntOr("max_chars", 20000))
}

func notFound(what, id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s %q not found", what, id)
	}
	return err
}

func cellString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		if c == float64(int64(c)) {
			return fmt.Sprintf("%d", int64(c))
		}
		return fmt.Sprintf("%g", c)
	case bool:
		return fmt.Sprintf("%t", c)
	default:
		return fmt.Sprint(c)
	}
}
