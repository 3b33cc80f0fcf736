// Package memory is an in-process remote store holding JSON documents. It
// backs offline runs and tests, and can be told to fail or to hold raw,
// possibly malformed, documents.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"budgetsync/internal/core"
	"budgetsync/internal/remote"
)

type categoryDoc struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type transactionDoc struct {
	ID          string      `json:"id"`
	Amount      json.Number `json:"amount"`
	Description string      `json:"description"`
	CreatedAt   string      `json:"createdAt"`
	CategoryID  string      `json:"categoryId,omitempty"`
}

type profileDoc struct {
	Name string `json:"name"`
}

type Store struct {
	mu      sync.Mutex
	docs    map[string]map[string][]byte // collection path -> document id -> JSON
	err     error
	calls   map[string]int
	durable bool
}

var _ remote.Store = (*Store)(nil)

// New returns an empty store that lives only as long as the process.
func New() *Store {
	return &Store{
		docs:  make(map[string]map[string][]byte),
		calls: make(map[string]int),
	}
}

// NewDurable returns an empty store that reports itself durable, standing in
// for a shared backend when one store instance is handed to every client.
func NewDurable() *Store {
	s := New()
	s.durable = true
	return s
}

// Durable implements remote.Durable.
func (s *Store) Durable() bool {
	return s.durable
}

// Fail makes every subsequent call return err. Pass nil to recover.
func (s *Store) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns how many times op was invoked, failed calls included.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// PutRaw stores a document verbatim, bypassing encoding.
func (s *Store) PutRaw(userID string, kind core.Kind, id string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(remote.CollectionPath(userID, kind), id, raw)
}

// Count returns the number of documents in a user's collection.
func (s *Store) Count(userID string, kind core.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[remote.CollectionPath(userID, kind)])
}

// Has reports whether the document exists.
func (s *Store) Has(userID string, kind core.Kind, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.docs[remote.CollectionPath(userID, kind)][id]
	return ok
}

func (s *Store) PushCategory(_ context.Context, userID string, c core.Category) error {
	f := remote.CategoryFieldsFrom(c)
	return s.write("push category", remote.CollectionPath(userID, core.KindCategory), c.ID,
		categoryDoc{ID: f.ID, Name: f.Name})
}

func (s *Store) PushTransaction(_ context.Context, userID string, t core.Transaction) error {
	f := remote.TransactionFieldsFrom(t)
	return s.write("push transaction", remote.CollectionPath(userID, core.KindTransaction), t.ID,
		transactionDoc{
			ID:          f.ID,
			Amount:      json.Number(f.Amount),
			Description: f.Description,
			CreatedAt:   f.CreatedAt,
			CategoryID:  f.CategoryID,
		})
}

func (s *Store) PullCategories(_ context.Context, userID string) (remote.Pull[core.Category], error) {
	docs, err := s.list("pull categories", remote.CollectionPath(userID, core.KindCategory))
	if err != nil {
		return remote.Pull[core.Category]{}, err
	}
	var out remote.Pull[core.Category]
	for _, d := range docs {
		c, err := decodeCategory(d.id, d.raw)
		if err != nil {
			out.Failures = append(out.Failures, err)
			continue
		}
		out.Items = append(out.Items, c)
	}
	return out, nil
}

func (s *Store) PullTransactions(_ context.Context, userID string) (remote.Pull[core.Transaction], error) {
	docs, err := s.list("pull transactions", remote.CollectionPath(userID, core.KindTransaction))
	if err != nil {
		return remote.Pull[core.Transaction]{}, err
	}
	var out remote.Pull[core.Transaction]
	for _, d := range docs {
		t, err := decodeTransaction(d.id, d.raw)
		if err != nil {
			out.Failures = append(out.Failures, err)
			continue
		}
		out.Items = append(out.Items, t)
	}
	return out, nil
}

func (s *Store) FetchCategory(_ context.Context, userID, id string) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("fetch category"); err != nil {
		return core.Category{}, err
	}
	raw, ok := s.docs[remote.CollectionPath(userID, core.KindCategory)][id]
	if !ok {
		return core.Category{}, fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}
	c, derr := decodeCategory(id, raw)
	if derr != nil {
		return core.Category{}, derr
	}
	return c, nil
}

func (s *Store) Delete(_ context.Context, userID string, kind core.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("delete"); err != nil {
		return err
	}
	delete(s.docs[remote.CollectionPath(userID, kind)], id)
	return nil
}

func (s *Store) ProfileExists(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("profile exists"); err != nil {
		return false, err
	}
	_, ok := s.docs[remote.ProfilePath(userID)][remote.ProfileDocID]
	return ok, nil
}

func (s *Store) CreateProfile(_ context.Context, userID string, p core.Profile) error {
	return s.write("create profile", remote.ProfilePath(userID), remote.ProfileDocID, profileDoc{Name: p.Name})
}

type rawDoc struct {
	id  string
	raw []byte
}

func (s *Store) write(op, path, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(op); err != nil {
		return err
	}
	s.put(path, id, raw)
	return nil
}

func (s *Store) list(op, path string) ([]rawDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(op); err != nil {
		return nil, err
	}
	out := make([]rawDoc, 0, len(s.docs[path]))
	for id, raw := range s.docs[path] {
		out = append(out, rawDoc{id: id, raw: append([]byte(nil), raw...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}

// begin counts the call and returns the injected failure, if any. Caller holds mu.
func (s *Store) begin(op string) error {
	s.calls[op]++
	if s.err == nil {
		return nil
	}
	var re *core.RemoteError
	if errors.As(s.err, &re) {
		return s.err
	}
	return &core.RemoteError{Op: op, Class: classify(s.err), Err: s.err}
}

func (s *Store) put(path, id string, raw []byte) {
	coll, ok := s.docs[path]
	if !ok {
		coll = make(map[string][]byte)
		s.docs[path] = coll
	}
	coll[id] = raw
}

func classify(err error) core.RemoteErrorClass {
	if errors.Is(err, core.ErrNotAuthenticated) {
		return core.RemoteAuth
	}
	return core.RemoteNetwork
}

func decodeCategory(id string, raw []byte) (core.Category, *core.DecodeError) {
	var doc categoryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return core.Category{}, &core.DecodeError{Kind: core.KindCategory, DocumentID: id, Err: err}
	}
	c, err := remote.CategoryFields{ID: doc.ID, Name: doc.Name}.Decode(id)
	if err != nil {
		return core.Category{}, asDecodeError(core.KindCategory, id, err)
	}
	return c, nil
}

func decodeTransaction(id string, raw []byte) (core.Transaction, *core.DecodeError) {
	var doc transactionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return core.Transaction{}, &core.DecodeError{Kind: core.KindTransaction, DocumentID: id, Err: err}
	}
	t, err := remote.TransactionFields{
		ID:          doc.ID,
		Description: doc.Description,
		Amount:      doc.Amount.String(),
		CreatedAt:   doc.CreatedAt,
		CategoryID:  doc.CategoryID,
	}.Decode(id)
	if err != nil {
		return core.Transaction{}, asDecodeError(core.KindTransaction, id, err)
	}
	return t, nil
}

func asDecodeError(kind core.Kind, id string, err error) *core.DecodeError {
	var de *core.DecodeError
	if errors.As(err, &de) {
		return de
	}
	return &core.DecodeError{Kind: kind, DocumentID: id, Err: err}
}
