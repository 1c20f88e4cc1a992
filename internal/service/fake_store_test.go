package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/keymeter/keymeter/internal/model"
	"github.com/keymeter/keymeter/internal/repository"
)

// memoryStore is an in-memory repository.Store for service tests.
type memoryStore struct {
	mu      sync.Mutex
	nextID  int64
	users   map[int64]*model.User
	config  map[string]string
	failAll error
}

var _ repository.Store = (*memoryStore)(nil)

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:  make(map[int64]*model.User),
		config: make(map[string]string),
	}
}

func (m *memoryStore) Migrate(ctx context.Context) error { return nil }
func (m *memoryStore) Ping(ctx context.Context) error    { return m.failAll }
func (m *memoryStore) Close() error                      { return nil }

func (m *memoryStore) CreateUser(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}

	for _, u := range m.users {
		if u.Username == user.Username || u.Email == user.Email || u.PrivateKey == user.PrivateKey {
			return repository.ErrDuplicateUser
		}
	}

	m.nextID++
	user.ID = m.nextID
	stored := *user
	m.users[user.ID] = &stored
	return nil
}

func (m *memoryStore) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}

	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memoryStore) GetUserByPrivateKey(ctx context.Context, privateKey string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}

	for _, u := range m.users {
		if u.PrivateKey == privateKey {
			copied := *u
			return &copied, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *memoryStore) ListUsers(ctx context.Context) ([]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}

	users := make([]*model.User, 0, len(m.users))
	for _, u := range m.users {
		copied := *u
		users = append(users, &copied)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID > users[j].ID
		}
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

func (m *memoryStore) UpdateMonthlyLimit(ctx context.Context, id, limit int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}

	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.MonthlyLimit = limit
	return nil
}

func (m *memoryStore) DeleteUser(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}

	if _, ok := m.users[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memoryStore) ConsumeRequest(ctx context.Context, privateKey string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}

	for _, u := range m.users {
		if u.PrivateKey == privateKey && u.RequestsUsed < u.MonthlyLimit {
			u.RequestsUsed++
			copied := *u
			return &copied, nil
		}
	}
	return nil, repository.ErrQuotaExhausted
}

func (m *memoryStore) UsageTotals(ctx context.Context) (*model.UsageTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}

	totals := &model.UsageTotals{}
	for _, u := range m.users {
		totals.TotalUsers++
		totals.TotalRequests += u.RequestsUsed
	}
	return totals, nil
}

func (m *memoryStore) GetConfigValue(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return "", m.failAll
	}

	v, ok := m.config[name]
	if !ok {
		return "", repository.ErrConfigNotFound
	}
	return v, nil
}

func (m *memoryStore) InsertConfigIfAbsent(ctx context.Context, name, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return false, m.failAll
	}

	if _, ok := m.config[name]; ok {
		return false, nil
	}
	m.config[name] = value
	return true, nil
}

func (m *memoryStore) userCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// memoryKeyCache is an in-memory SystemKeyCache.
type memoryKeyCache struct {
	mu    sync.Mutex
	value string
	sets  int
}

var errMiss = errors.New("miss")

func (c *memoryKeyCache) GetSystemKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == "" {
		return "", errMiss
	}
	return c.value, nil
}

func (c *memoryKeyCache) SetSystemKey(ctx context.Context, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = value
	c.sets++
	return nil
}
