package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryKB is an in-process KnowledgeBase.
type MemoryKB struct {
	mu    sync.RWMutex
	items map[string]Resource
	now   func() time.Time
}

// NewMemoryKB creates an empty MemoryKB seeded with the given resources.
func NewMemoryKB(seed ...Resource) *MemoryKB {
	kb := &MemoryKB{items: make(map[string]Resource), now: time.Now}
	for _, r := range seed {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = kb.now()
			r.UpdatedAt = r.CreatedAt
		}
		kb.items[r.ID] = r
	}
	return kb
}

func (kb *MemoryKB) Search(ctx context.Context, q SearchQuery) ([]SearchHit, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	var hits []SearchHit
	for _, r := range kb.items {
		if q.Kind != "" && r.Kind != q.Kind {
			continue
		}
		if h, ok := Score(r, q.Text); ok {
			hits = append(hits, h)
		}
	}
	return RankHits(hits, q.Limit), nil
}

func (kb *MemoryKB) Get(ctx context.Context, id string) (Resource, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	r, ok := kb.items[id]
	if !ok {
		return Resource{}, ErrNotFound
	}
	return r, nil
}

func (kb *MemoryKB) List(ctx context.Context, parentID string) ([]Resource, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	if parentID != "" {
		if _, ok := kb.items[parentID]; !ok {
			return nil, ErrNotFound
		}
	}
	out := []Resource{}
	for _, r := range kb.items {
		if r.ParentID == parentID {
			out = append(out, r)
		}
	}
	SortResources(out)
	return out, nil
}

func (kb *MemoryKB) Create(ctx context.Context, r Resource) (Resource, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if err := kb.checkParent(r.ParentID); err != nil {
		return Resource{}, err
	}
	r.ID = uuid.NewString()
	if r.Kind == "" {
		r.Kind = KindNote
	}
	r.CreatedAt = kb.now()
	r.UpdatedAt = r.CreatedAt
	kb.items[r.ID] = r
	return r, nil
}

func (kb *MemoryKB) Update(ctx context.Context, id string, patch ResourcePatch) (Resource, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	r, ok := kb.items[id]
	if !ok {
		return Resource{}, ErrNotFound
	}
	r = patch.Apply(r)
	r.UpdatedAt = kb.now()
	kb.items[id] = r
	return r, nil
}

func (kb *MemoryKB) Delete(ctx context.Context, id string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, ok := kb.items[id]; !ok {
		return ErrNotFound
	}
	for _, d := range Descendants(kb.items, id) {
		delete(kb.items, d)
	}
	delete(kb.items, id)
	return nil
}

func (kb *MemoryKB) Move(ctx context.Context, id, newParentID string) (Resource, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	r, ok := kb.items[id]
	if !ok {
		return Resource{}, ErrNotFound
	}
	if err := CheckMove(kb.items, id, newParentID); err != nil {
		return Resource{}, err
	}
	r.ParentID = newParentID
	r.UpdatedAt = kb.now()
	kb.items[id] = r
	return r, nil
}

func (kb *MemoryKB) checkParent(parentID string) error {
	if parentID == "" {
		return nil
	}
	p, ok := kb.items[parentID]
	if !ok {
		return fmt.Errorf("parent %q: %w", parentID, ErrNotFound)
	}
	if p.Kind != KindFolder {
		return fmt.Errorf("parent %q is a %s, not a folder", parentID, p.Kind)
	}
	return nil
}

// ErrCycle is returned when a move would put a folder inside itself.
var ErrCycle = errors.New("catalog: cannot move a resource into itself or its descendants")

// Apply returns r with the patch applied.
func (p ResourcePatch) Apply(r Resource) Resource {
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Content != nil {
		r.Content = *p.Content
	}
	if p.Tags != nil {
		r.Tags = append([]string(nil), p.Tags...)
	}
	return r
}

// Descendants returns the ids of every resource below id.
func Descendants(items map[string]Resource, id string) []string {
	children := map[string][]string{}
	for _, r := range items {
		children[r.ParentID] = append(children[r.ParentID], r.ID)
	}
	var out []string
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}

// CheckMove validates moving id under newParentID.
func CheckMove(items map[string]Resource, id, newParentID string) error {
	if newParentID == "" {
		return nil
	}
	p, ok := items[newParentID]
	if !ok {
		return fmt.Errorf("parent %q: %w", newParentID, ErrNotFound)
	}
	if p.Kind != KindFolder {
		return fmt.Errorf("parent %q is a %s, not a folder", newParentID, p.Kind)
	}
	if newParentID == id {
		return ErrCycle
	}
	for _, d := range Descendants(items, id) {
		if d == newParentID {
			return ErrCycle
		}
	}
	return nil
}

// Score matches r against a free-text query. Every query term must appear in
// the title, content, tags or cards; title hits weigh more.
func Score(r Resource, query string) (SearchHit, bool) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return SearchHit{}, false
	}
	title := strings.ToLower(r.Title)
	body := strings.ToLower(searchBody(r))
	score := 0
	for _, t := range terms {
		inTitle := strings.Count(title, t)
		inBody := strings.Count(body, t)
		if inTitle+inBody == 0 {
			return SearchHit{}, false
		}
		score += 3*inTitle + inBody
	}
	return SearchHit{
		ID:      r.ID,
		Kind:    r.Kind,
		Title:   r.Title,
		Snippet: snippet(searchBody(r), terms[0], 160),
		Score:   score,
	}, true
}

// RankHits orders hits by score, then title, and applies limit.
func RankHits(hits []SearchHit, limit int) []SearchHit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Title < hits[j].Title
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	if hits == nil {
		hits = []SearchHit{}
	}
	return hits
}

// SortResources orders folders first, then by title.
func SortResources(rs []Resource) {
	sort.Slice(rs, func(i, j int) bool {
		fi, fj := rs[i].Kind == KindFolder, rs[j].Kind == KindFolder
		if fi != fj {
			return fi
		}
		if rs[i].Title != rs[j].Title {
			return rs[i].Title < rs[j].Title
		}
		return rs[i].ID < rs[j].ID
	})
}

func searchBody(r Resource) string {
	var b strings.Builder
	b.WriteString(r.Content)
	for _, t := range r.Tags {
		b.WriteString(" ")
		b.WriteString(t)
	}
	for _, c := range r.Cards {
		b.WriteString(" ")
		b.WriteString(c.Front)
		b.WriteString(" ")
		b.WriteString(c.Back)
	}
	return b.String()
}

func snippet(text, term string, width int) string {
	runes := []rune(strings.Join(strings.Fields(text), " "))
	if len(runes) == 0 {
		return ""
	}
	flat := string(runes)
	i := strings.Index(strings.ToLower(flat), term)
	if i < 0 || i > len(flat) {
		i = 0
	}
	i = len([]rune(flat[:i]))
	start := i - width/2
	if start < 0 {
		start = 0
	}
	end := start + width
	if end > len(runes) {
		end = len(runes)
	}
	out := string(runes[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}
