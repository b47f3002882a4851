// Package store persists the knowledge base and the approval audit trail in
// a bbolt file.
package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/martinemde/dome/catalog"
	"github.com/martinemde/dome/hitl"
)

const (
	bucketResources = "resources"
	bucketApprovals = "approvals"
)

// BoltStore is a file-backed catalog.KnowledgeBase and approval log.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// Option configures a BoltStore.
type Option func(*BoltStore)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *BoltStore) { s.now = now }
}

// Open opens or creates the database at path.
func Open(path string, opts ...Option) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	s := &BoltStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) ensureBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketResources, bucketApprovals} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- knowledge base ---

func (s *BoltStore) Search(_ context.Context, q catalog.SearchQuery) ([]catalog.SearchHit, error) {
	var hits []catalog.SearchHit
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachResource(tx, func(r catalog.Resource) {
			if q.Kind != "" && r.Kind != q.Kind {
				return
			}
			if h, ok := catalog.Score(r, q.Text); ok {
				hits = append(hits, h)
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return catalog.RankHits(hits, q.Limit), nil
}

func (s *BoltStore) Get(_ context.Context, id string) (catalog.Resource, error) {
	var r catalog.Resource
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		r, err = getResource(tx, id)
		return err
	})
	return r, err
}

func (s *BoltStore) List(_ context.Context, parentID string) ([]catalog.Resource, error) {
	out := []catalog.Resource{}
	err := s.db.View(func(tx *bolt.Tx) error {
		if parentID != "" {
			if _, err := getResource(tx, parentID); err != nil {
				return err
			}
		}
		return forEachResource(tx, func(r catalog.Resource) {
			if r.ParentID == parentID {
				out = append(out, r)
			}
		})
	})
	if err != nil {
		return nil, err
	}
	catalog.SortResources(out)
	return out, nil
}

func (s *BoltStore) Create(_ context.Context, r catalog.Resource) (catalog.Resource, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if r.ParentID != "" {
			p, err := getResource(tx, r.ParentID)
			if err != nil {
				return fmt.Errorf("parent %q: %w", r.ParentID, err)
			}
			if p.Kind != catalog.KindFolder {
				return fmt.Errorf("parent %q is a %s, not a folder", r.ParentID, p.Kind)
			}
		}
		r.ID = uuid.NewString()
		if r.Kind == "" {
			r.Kind = catalog.KindNote
		}
		r.CreatedAt = s.now().UTC()
		r.UpdatedAt = r.CreatedAt
		return putResource(tx, r)
	})
	if err != nil {
		return catalog.Resource{}, err
	}
	return r, nil
}

func (s *BoltStore) Update(_ context.Context, id string, patch catalog.ResourcePatch) (catalog.Resource, error) {
	var r catalog.Resource
	err := s.db.Update(func(tx *bolt.Tx) error {
		cur, err := getResource(tx, id)
		if err != nil {
			return err
		}
		r = patch.Apply(cur)
		r.UpdatedAt = s.now().UTC()
		return putResource(tx, r)
	})
	if err != nil {
		return catalog.Resource{}, err
	}
	return r, nil
}

// Delete removes a resource and everything below it.
func (s *BoltStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		items, err := loadAll(tx)
		if err != nil {
			return err
		}
		if _, ok := items[id]; !ok {
			return catalog.ErrNotFound
		}
		b := tx.Bucket([]byte(bucketResources))
		for _, d := range append(catalog.Descendants(items, id), id) {
			if err := b.Delete([]byte(d)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Move(_ context.Context, id, newParentID string) (catalog.Resource, error) {
	var r catalog.Resource
	err := s.db.Update(func(tx *bolt.Tx) error {
		items, err := loadAll(tx)
		if err != nil {
			return err
		}
		cur, ok := items[id]
		if !ok {
			return catalog.ErrNotFound
		}
		if err := catalog.CheckMove(items, id, newParentID); err != nil {
			return err
		}
		cur.ParentID = newParentID
		cur.UpdatedAt = s.now().UTC()
		r = cur
		return putResource(tx, r)
	})
	if err != nil {
		return catalog.Resource{}, err
	}
	return r, nil
}

func getResource(tx *bolt.Tx, id string) (catalog.Resource, error) {
	v := tx.Bucket([]byte(bucketResources)).Get([]byte(id))
	if v == nil {
		return catalog.Resource{}, catalog.ErrNotFound
	}
	var r catalog.Resource
	if err := json.Unmarshal(v, &r); err != nil {
		return catalog.Resource{}, fmt.Errorf("decode resource %q: %w", id, err)
	}
	return r, nil
}

func putResource(tx *bolt.Tx, r catalog.Resource) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode resource %q: %w", r.ID, err)
	}
	return tx.Bucket([]byte(bucketResources)).Put([]byte(r.ID), data)
}

func forEachResource(tx *bolt.Tx, fn func(catalog.Resource)) error {
	return tx.Bucket([]byte(bucketResources)).ForEach(func(k, v []byte) error {
		var r catalog.Resource
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("decode resource %q: %w", k, err)
		}
		fn(r)
		return nil
	})
}

func loadAll(tx *bolt.Tx) (map[string]catalog.Resource, error) {
	items := map[string]catalog.Resource{}
	err := forEachResource(tx, func(r catalog.Resource) { items[r.ID] = r })
	return items, err
}

// --- approvals ---

// Approval record kinds.
const (
	KindRequested = "requested"
	KindDecided   = "decided"
)

// ApprovalRecord is one entry of a thread's approval log.
type ApprovalRecord struct {
	ThreadID   string            `json:"thread_id"`
	Kind       string            `json:"kind"`
	ToolCallID string            `json:"tool_call_id"`
	Tool       string            `json:"tool"`
	Arguments  json.RawMessage   `json:"args,omitempty"`
	Decision   hitl.DecisionType `json:"decision,omitempty"`
	Message    string            `json:"message,omitempty"`
	At         time.Time         `json:"at"`
}

// RecordInterrupt logs one "requested" record per action request.
func (s *BoltStore) RecordInterrupt(_ context.Context, in *hitl.Interrupt) error {
	if in == nil {
		return nil
	}
	at := s.now().UTC()
	recs := make([]ApprovalRecord, 0, len(in.ActionRequests))
	for _, ar := range in.ActionRequests {
		recs = append(recs, ApprovalRecord{
			ThreadID:   in.ThreadID,
			Kind:       KindRequested,
			ToolCallID: ar.ToolCallID,
			Tool:       ar.Name,
			Arguments:  ar.Arguments,
			At:         at,
		})
	}
	return s.appendApprovals(in.ThreadID, recs)
}

// RecordDecisions logs the reviewer's decision for each request.
func (s *BoltStore) RecordDecisions(_ context.Context, threadID string, requests []hitl.ActionRequest, decisions []hitl.Decision) error {
	if len(requests) != len(decisions) {
		return fmt.Errorf("record decisions: %d requests, %d decisions", len(requests), len(decisions))
	}
	at := s.now().UTC()
	recs := make([]ApprovalRecord, 0, len(requests))
	for i, ar := range requests {
		d := decisions[i]
		args := ar.Arguments
		if d.Type == hitl.Edit && len(d.Arguments) > 0 {
			args = d.Arguments
		}
		recs = append(recs, ApprovalRecord{
			ThreadID:   threadID,
			Kind:       KindDecided,
			ToolCallID: ar.ToolCallID,
			Tool:       ar.Name,
			Arguments:  args,
			Decision:   d.Type,
			Message:    d.Message,
			At:         at,
		})
	}
	return s.appendApprovals(threadID, recs)
}

func (s *BoltStore) appendApprovals(threadID string, recs []ApprovalRecord) error {
	if threadID == "" {
		return errors.New("approval record needs a thread id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketApprovals))
		for _, rec := range recs {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode approval: %w", err)
			}
			if err := b.Put(approvalKey(threadID, seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListApprovals returns a thread's approval log, oldest first.
func (s *BoltStore) ListApprovals(_ context.Context, threadID string) ([]ApprovalRecord, error) {
	out := []ApprovalRecord{}
	prefix := approvalPrefix(threadID)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketApprovals)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec ApprovalRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode approval %q: %w", k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func approvalPrefix(threadID string) []byte {
	return append([]byte(threadID), 0)
}

// approvalKey orders a thread's records by bucket sequence.
func approvalKey(threadID string, seq uint64) []byte {
	k := approvalPrefix(threadID)
	return binary.BigEndian.AppendUint64(k, seq)
}
