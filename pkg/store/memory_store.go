package store

import (
	"sort"
	"strings"
	"sync"

	"veridoc/pkg/domain"
)

// MemoryStore keeps all records in-process. It backs tests and the
// storeStrategy=memory mode; records are copied on the way in and out so
// callers never alias the stored state.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
	files    map[string]domain.File
	chats    map[string]domain.ChatSession
	options  map[string]domain.MenuOption
	order    []string // chat insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]domain.Account),
		files:    make(map[string]domain.File),
		chats:    make(map[string]domain.ChatSession),
		options:  make(map[string]domain.MenuOption),
	}
}

// SaveAccount stores or replaces an account record.
func (m *MemoryStore) SaveAccount(a domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
	return nil
}

// HasAccountEmail checks whether the email is registered, case-insensitively.
func (m *MemoryStore) HasAccountEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if strings.EqualFold(a.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

// GetAccountByEmail looks up an account by email, case-insensitively.
func (m *MemoryStore) GetAccountByEmail(email string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if strings.EqualFold(a.Email, email) {
			return a, true, nil
		}
	}
	return domain.Account{}, false, nil
}

// GetAccountByID retrieves an account by ID.
func (m *MemoryStore) GetAccountByID(id string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	return a, ok, nil
}

// ListAccounts returns all accounts ordered by creation time.
func (m *MemoryStore) ListAccounts() ([]domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// AccountCount returns the number of accounts.
func (m *MemoryStore) AccountCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts), nil
}

// DeleteAccount removes the account, its chats and their files.
func (m *MemoryStore) DeleteAccount(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return false, nil
	}
	delete(m.accounts, id)
	for chatID, chat := range m.chats {
		if chat.AccountID != id {
			continue
		}
		delete(m.files, chat.FileID)
		delete(m.chats, chatID)
		m.dropOrder(chatID)
	}
	return true, nil
}

// SaveFile stores file metadata. Existing records are left untouched.
func (m *MemoryStore) SaveFile(f domain.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.files[f.ID]; exists {
		return nil
	}
	m.files[f.ID] = f
	return nil
}

// GetFile retrieves file metadata by ID.
func (m *MemoryStore) GetFile(id string) (domain.File, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	return f, ok, nil
}

// SaveChat stores or replaces a chat session.
func (m *MemoryStore) SaveChat(c domain.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.chats[c.ID]; !exists {
		m.order = append(m.order, c.ID)
	}
	m.chats[c.ID] = cloneChat(c)
	return nil
}

// GetChat retrieves a chat session by ID.
func (m *MemoryStore) GetChat(id string) (domain.ChatSession, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[id]
	if !ok {
		return domain.ChatSession{}, false, nil
	}
	return cloneChat(c), true, nil
}

// ListChatsByOwner returns the owner's chats in insertion order.
func (m *MemoryStore) ListChatsByOwner(accountID string) ([]domain.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ChatSession, 0)
	for _, id := range m.order {
		if c, ok := m.chats[id]; ok && c.AccountID == accountID {
			res = append(res, cloneChat(c))
		}
	}
	return res, nil
}

// DeleteChat removes a chat and the file it owns.
func (m *MemoryStore) DeleteChat(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[id]
	if !ok {
		return nil
	}
	delete(m.files, chat.FileID)
	delete(m.chats, id)
	m.dropOrder(id)
	return nil
}

// ListMenuOptions returns the catalog ordered by display order ascending.
func (m *MemoryStore) ListMenuOptions() ([]domain.MenuOption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.MenuOption, 0, len(m.options))
	for _, o := range m.options {
		res = append(res, o)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].DisplayOrder < res[j].DisplayOrder })
	return res, nil
}

// GetMenuOption returns one catalog entry by ID.
func (m *MemoryStore) GetMenuOption(id string) (domain.MenuOption, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.options[id]
	return o, ok, nil
}

// SeedMenuOptions inserts the options when the catalog is empty.
func (m *MemoryStore) SeedMenuOptions(options []domain.MenuOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.options) > 0 {
		return nil
	}
	for _, o := range options {
		m.options[o.ID] = o
	}
	return nil
}

func (m *MemoryStore) dropOrder(id string) {
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func cloneChat(c domain.ChatSession) domain.ChatSession {
	if c.Analysis == nil {
		return c
	}
	analysis := *c.Analysis
	if c.Analysis.Categories != nil {
		analysis.Categories = make(map[string]any, len(c.Analysis.Categories))
		for k, v := range c.Analysis.Categories {
			analysis.Categories[k] = v
		}
	}
	c.Analysis = &analysis
	return c
}
