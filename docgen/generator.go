// Package docgen produces the files behind documents, spreadsheets and
// presentations. Documents are Markdown, spreadsheets are CSV, and slide
// decks are built by the python-pptx scripts. PDF export goes through
// LibreOffice.
package docgen

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/dome/catalog"
)

// Themes lists the presentation color themes the slide script knows.
var Themes = []string{
	"midnight_executive",
	"forest_moss",
	"ocean_gradient",
	"sunset_warm",
	"slate_minimal",
	"emerald_pro",
}

// Layouts lists the slide layouts the slide script knows.
var Layouts = []string{"title", "content", "bullet", "title_only", "blank"}

const indexFile = "index.json"

// Config locates the output directory and the external tools.
type Config struct {
	// Dir receives generated files and the artifact index.
	Dir string
	// ScriptsDir holds generate_ppt.py, extract_ppt.py and
	// extract_ppt_images.py.
	ScriptsDir string
	Python     string
	Soffice    string
	Timeout    time.Duration
}

// DefaultConfig returns the generator defaults.
func DefaultConfig() Config {
	return Config{
		Dir:        "artifacts",
		ScriptsDir: filepath.Join("scripts", "document-generator"),
		Python:     "python3",
		Soffice:    "soffice",
		Timeout:    2 * time.Minute,
	}
}

// Generator implements catalog.Generator on the local filesystem.
type Generator struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	index map[string]catalog.Artifact
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// New creates a Generator writing under cfg.Dir and loads any existing
// artifact index there.
func New(cfg Config, opts ...Option) (*Generator, error) {
	def := DefaultConfig()
	if cfg.Dir == "" {
		cfg.Dir = def.Dir
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = def.ScriptsDir
	}
	if cfg.Python == "" {
		cfg.Python = def.Python
	}
	if cfg.Soffice == "" {
		cfg.Soffice = def.Soffice
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	g := &Generator{
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
		index:  map[string]catalog.Artifact{},
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(cfg.Dir, indexFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read artifact index: %w", err)
	default:
		if err := json.Unmarshal(data, &g.index); err != nil {
			return nil, fmt.Errorf("decode artifact index: %w", err)
		}
	}
	return g, nil
}

func (g *Generator) CreateDocument(_ context.Context, spec catalog.DocumentSpec) (catalog.Artifact, error) {
	a := g.newArtifact(catalog.ArtifactDocument, spec.Title, "md")
	body := spec.Content
	if !strings.HasPrefix(strings.TrimSpace(body), "#") && spec.Title != "" {
		body = "# " + spec.Title + "\n\n" + body
	}
	if err := os.WriteFile(a.Path, []byte(body), 0o644); err != nil {
		return catalog.Artifact{}, fmt.Errorf("write document: %w", err)
	}
	return g.save(a)
}

func (g *Generator) CreateSpreadsheet(_ context.Context, spec catalog.SpreadsheetSpec) (catalog.Artifact, error) {
	if len(spec.Columns) == 0 {
		return catalog.Artifact{}, errors.New("a spreadsheet needs at least one column")
	}
	for i, row := range spec.Rows {
		if len(row) > len(spec.Columns) {
			return catalog.Artifact{}, fmt.Errorf("row %d has %d cells for %d columns", i+1, len(row), len(spec.Columns))
		}
	}
	a := g.newArtifact(catalog.ArtifactSpreadsheet, spec.Title, "csv")

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(spec.Columns)
	for _, row := range spec.Rows {
		padded := make([]string, len(spec.Columns))
		copy(padded, row)
		_ = w.Write(padded)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return catalog.Artifact{}, fmt.Errorf("encode spreadsheet: %w", err)
	}
	if err := os.WriteFile(a.Path, buf.Bytes(), 0o644); err != nil {
		return catalog.Artifact{}, fmt.Errorf("write spreadsheet: %w", err)
	}
	return g.save(a)
}

// CreatePresentation runs generate_ppt.py with the spec on stdin.
func (g *Generator) CreatePresentation(ctx context.Context, spec catalog.PresentationSpec) (catalog.Artifact, error) {
	if err := validatePresentation(spec); err != nil {
		return catalog.Artifact{}, err
	}
	a := g.newArtifact(catalog.ArtifactPresentation, spec.Title, "pptx")
	payload, err := json.Marshal(spec)
	if err != nil {
		return catalog.Artifact{}, fmt.Errorf("encode presentation: %w", err)
	}
	var out struct {
		Path string `json:"path"`
	}
	if err := g.script(ctx, "generate_ppt.py", bytes.NewReader(payload), &out, a.Path); err != nil {
		return catalog.Artifact{}, err
	}
	if out.Path != "" {
		a.Path = out.Path
	}
	return g.save(a)
}

func validatePresentation(spec catalog.PresentationSpec) error {
	if spec.Theme != "" && !slices.Contains(Themes, spec.Theme) {
		return fmt.Errorf("unknown theme %q; choose one of %s", spec.Theme, strings.Join(Themes, ", "))
	}
	for i, s := range spec.Slides {
		if s.Layout != "" && !slices.Contains(Layouts, s.Layout) {
			return fmt.Errorf("slide %d: unknown layout %q; choose one of %s", i+1, s.Layout, strings.Join(Layouts, ", "))
		}
	}
	return nil
}

// Get returns an artifact with its readable content.
func (g *Generator) Get(ctx context.Context, id string) (catalog.ArtifactContent, error) {
	a, err := g.lookup(id)
	if err != nil {
		return catalog.ArtifactContent{}, err
	}
	c := catalog.ArtifactContent{Artifact: a}
	switch a.Format {
	case "md":
		data, err := os.ReadFile(a.Path)
		if err != nil {
			return c, fmt.Errorf("read document: %w", err)
		}
		c.Text = string(data)
	case "csv":
		f, err := os.Open(a.Path)
		if err != nil {
			return c, fmt.Errorf("read spreadsheet: %w", err)
		}
		defer f.Close()
		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		records, err := r.ReadAll()
		if err != nil {
			return c, fmt.Errorf("decode spreadsheet: %w", err)
		}
		if len(records) > 0 {
			c.Columns = records[0]
			c.Rows = records[1:]
		}
	case "pptx":
		var out struct {
			Slides []catalog.SlideText `json:"slides"`
		}
		if err := g.script(ctx, "extract_ppt.py", nil, &out, a.Path); err != nil {
			return c, err
		}
		c.Slides = out.Slides
	}
	return c, nil
}

// SlideImage is one rendered slide.
type SlideImage struct {
	Index       int    `json:"index"`
	ImageBase64 string `json:"image_base64"`
}

// SlideImages renders each slide of a presentation to a PNG.
func (g *Generator) SlideImages(ctx context.Context, id string) ([]SlideImage, error) {
	a, err := g.lookup(id)
	if err != nil {
		return nil, err
	}
	if a.Format != "pptx" {
		return nil, fmt.Errorf("artifact %q is a %s, not a presentation", id, a.Format)
	}
	var out struct {
		Slides []SlideImage `json:"slides"`
	}
	if err := g.script(ctx, "extract_ppt_images.py", nil, &out, a.Path); err != nil {
		return nil, err
	}
	return out.Slides, nil
}

// Export converts an artifact. Its own format returns it unchanged; pdf
// produces a new artifact through LibreOffice. An empty format means pdf.
func (g *Generator) Export(ctx context.Context, id, format string) (catalog.Artifact, error) {
	a, err := g.lookup(id)
	if err != nil {
		return catalog.Artifact{}, err
	}
	format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if format == "" {
		format = "pdf"
	}
	if format == a.Format {
		return a, nil
	}
	if format != "pdf" {
		return catalog.Artifact{}, fmt.Errorf("cannot export a %s as %s; use %s or pdf", a.Kind, format, a.Format)
	}

	outDir := filepath.Join(g.cfg.Dir, "export-"+uuid.NewString())
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return catalog.Artifact{}, fmt.Errorf("create export dir: %w", err)
	}
	res, err := run(ctx, g.cfg.Timeout, "", nil, g.cfg.Soffice,
		"--headless", "--convert-to", "pdf", "--outdir", outDir, a.Path)
	if err != nil {
		return catalog.Artifact{}, err
	}
	if res.TimedOut {
		return catalog.Artifact{}, fmt.Errorf("pdf export timed out after %s", g.cfg.Timeout)
	}
	if res.ExitCode != 0 {
		return catalog.Artifact{}, fmt.Errorf("pdf export failed (exit %d): %s", res.ExitCode, strings.TrimSpace(res.output()))
	}
	produced := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(a.Path), filepath.Ext(a.Path))+".pdf")
	if _, err := os.Stat(produced); err != nil {
		return catalog.Artifact{}, fmt.Errorf("pdf export produced no file: %w", err)
	}

	out := g.newArtifact(a.Kind, a.Title, "pdf")
	if err := os.Rename(produced, out.Path); err != nil {
		return catalog.Artifact{}, fmt.Errorf("move exported pdf: %w", err)
	}
	_ = os.Remove(outDir)
	g.logger.Info("artifact exported", zap.String("artifact_id", id), zap.String("export_id", out.ID))
	return g.save(out)
}

// List returns every artifact, newest first.
func (g *Generator) List() []catalog.Artifact {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]catalog.Artifact, 0, len(g.index))
	for _, a := range g.index {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (g *Generator) newArtifact(kind catalog.ArtifactKind, title, format string) catalog.Artifact {
	id := uuid.NewString()
	return catalog.Artifact{
		ID:        id,
		Kind:      kind,
		Title:     title,
		Path:      filepath.Join(g.cfg.Dir, id+"."+format),
		Format:    format,
		CreatedAt: g.now().UTC(),
	}
}

func (g *Generator) lookup(id string) (catalog.Artifact, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.index[id]
	if !ok {
		return catalog.Artifact{}, catalog.ErrNotFound
	}
	return a, nil
}

// save adds a to the index and rewrites the index file.
func (g *Generator) save(a catalog.Artifact) (catalog.Artifact, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.index[a.ID] = a
	data, err := json.MarshalIndent(g.index, "", "  ")
	if err != nil {
		return catalog.Artifact{}, fmt.Errorf("encode artifact index: %w", err)
	}
	tmp := filepath.Join(g.cfg.Dir, indexFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return catalog.Artifact{}, fmt.Errorf("write artifact index: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(g.cfg.Dir, indexFile)); err != nil {
		return catalog.Artifact{}, fmt.Errorf("write artifact index: %w", err)
	}
	g.logger.Debug("artifact saved", zap.String("artifact_id", a.ID), zap.String("format", a.Format))
	return a, nil
}

// scriptReply is the envelope every document script prints.
type scriptReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// script runs a python helper and decodes its JSON reply into out. Replies
// may arrive on stdout or, for failures, on stderr.
func (g *Generator) script(ctx context.Context, name string, stdin io.Reader, out any, args ...string) error {
	path := filepath.Join(g.cfg.ScriptsDir, name)
	res, err := run(ctx, g.cfg.Timeout, "", stdin, g.cfg.Python, append([]string{path}, args...)...)
	if err != nil {
		return err
	}
	if res.TimedOut {
		return fmt.Errorf("%s timed out after %s", name, g.cfg.Timeout)
	}

	for _, stream := range []string{res.Stdout, res.Stderr} {
		line := lastLine(stream)
		if line == "" {
			continue
		}
		var reply scriptReply
		if json.Unmarshal([]byte(line), &reply) != nil {
			continue
		}
		if !reply.Success {
			if reply.Error == "" {
				reply.Error = "unknown error"
			}
			return fmt.Errorf("%s: %s", name, reply.Error)
		}
		if err := json.Unmarshal([]byte(line), out); err != nil {
			return fmt.Errorf("%s: decode reply: %w", name, err)
		}
		return nil
	}
	return fmt.Errorf("%s failed (exit %d): %s", name, res.ExitCode, strings.TrimSpace(res.output()))
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
