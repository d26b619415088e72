package referral

import (
	"context"
	"sync"

	"mlm-referral-backend/internal/domain"
)

// memStore is an in-memory NodeStore for exercising the tree logic
// without a database. Get returns copies so callers can't alias the
// stored record, matching how a real store behaves.
type memStore struct {
	mu    sync.Mutex
	nodes map[string]*domain.Node

	saveErrFor string // Save fails when called with this node id
	getErr     error
}

func newMemStore() *memStore {
	return &memStore{nodes: map[string]*domain.Node{}}
}

func cloneNode(n *domain.Node) *domain.Node {
	cp := *n
	cp.Ancestors = append([]string(nil), n.Ancestors...)
	cp.Children = append([]string(nil), n.Children...)
	if n.Code != nil {
		c := *n.Code
		cp.Code = &c
	}
	return &cp
}

func (s *memStore) Get(ctx context.Context, id string) (*domain.Node, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, nil
	}
	return cloneNode(n), nil
}

func (s *memStore) GetByCode(ctx context.Context, code string) (*domain.Node, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if code == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.Code != nil && *n.Code == code {
			return cloneNode(n), nil
		}
	}
	return nil, nil
}

func (s *memStore) Create(ctx context.Context, n *domain.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = cloneNode(n)
	return nil
}

func (s *memStore) Save(ctx context.Context, n *domain.Node) error {
	if s.saveErrFor != "" && n.ID == s.saveErrFor {
		return errSaveInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = cloneNode(n)
	return nil
}

func (s *memStore) AppendChild(ctx context.Context, sponsorID, childID string) error {
	if s.saveErrFor != "" && sponsorID == s.saveErrFor {
		return errSaveInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[sponsorID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, cid := range n.Children {
		if cid == childID {
			return nil
		}
	}
	n.Children = append(n.Children, childID)
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return domain.ErrNotFound
	}
	if len(n.Children) > 0 {
		return domain.ErrConflict
	}
	delete(s.nodes, id)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// mustPut stores a pre-built node verbatim (test fixture helper).
func (s *memStore) mustPut(n *domain.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = cloneNode(n)
}

type injectedErr struct{}

func (injectedErr) Error() string { return "injected save failure" }

var errSaveInjected = injectedErr{}

// collidingStore always reports the probed code as taken.
type collidingStore struct{ *memStore }

func (s collidingStore) GetByCode(ctx context.Context, code string) (*domain.Node, error) {
	n := &domain.Node{ID: "taken", Code: &code}
	return n, nil
}
