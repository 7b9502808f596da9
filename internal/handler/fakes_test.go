package handler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/customerbook/internal/model"
	"github.com/hitoshi/customerbook/internal/repository"
)

// --- ルーター全体のテストで使うインメモリリポジトリ ---

type memoryStore struct {
	mu             sync.Mutex
	users          map[string]*model.User
	sessions       map[string]*model.Session
	customers      map[int64]*model.Customer
	nextCustomerID int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:     map[string]*model.User{},
		sessions:  map[string]*model.Session{},
		customers: map[int64]*model.Customer{},
	}
}

type memoryUserRepo struct{ s *memoryStore }

func (r memoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.users[id], nil
}

func (r memoryUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

func (r memoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == user.Username {
			return repository.ErrDuplicateUsername
		}
	}
	r.s.users[user.ID] = user
	return nil
}

type memorySessionRepo struct{ s *memoryStore }

func (r memorySessionRepo) Create(_ context.Context, session *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.sessions[session.ID] = session
	return nil
}

func (r memorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.sessions[id], nil
}

func (r memorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.sessions, id)
	return nil
}

func (r memorySessionRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, sess := range r.s.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

type memoryCustomerRepo struct{ s *memoryStore }

func (r memoryCustomerRepo) List(_ context.Context) ([]*model.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.Customer, 0, len(r.s.customers))
	for _, c := range r.s.customers {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memoryCustomerRepo) FindByID(_ context.Context, id int64) (*model.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.customers[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r memoryCustomerRepo) Create(_ context.Context, c *model.Customer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextCustomerID++
	c.ID = r.s.nextCustomerID
	cp := *c
	r.s.customers[c.ID] = &cp
	return nil
}

func (r memoryCustomerRepo) Update(_ context.Context, c *model.Customer) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.customers[c.ID]; !ok {
		return false, nil
	}
	cp := *c
	r.s.customers[c.ID] = &cp
	return true, nil
}

func (r memoryCustomerRepo) Delete(_ context.Context, id int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.customers[id]; !ok {
		return false, nil
	}
	delete(r.s.customers, id)
	return true, nil
}

var (
	_ repository.UserRepository     = memoryUserRepo{}
	_ repository.SessionRepository  = memorySessionRepo{}
	_ repository.CustomerRepository = memoryCustomerRepo{}
)
