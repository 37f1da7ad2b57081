package store

import "veridoc/pkg/domain"

// Store defines persistence operations for accounts, files and chat sessions.
type Store interface {
	// accounts
	SaveAccount(domain.Account) error
	HasAccountEmail(email string) (bool, error)
	GetAccountByEmail(email string) (domain.Account, bool, error)
	GetAccountByID(id string) (domain.Account, bool, error)
	ListAccounts() ([]domain.Account, error)
	AccountCount() (int, error)
	// DeleteAccount removes the account together with every chat it owns and
	// the files those chats own. Returns false when no such account exists.
	DeleteAccount(id string) (bool, error)

	// files
	SaveFile(domain.File) error
	GetFile(id string) (domain.File, bool, error)

	// chats
	SaveChat(domain.ChatSession) error
	GetChat(id string) (domain.ChatSession, bool, error)
	ListChatsByOwner(accountID string) ([]domain.ChatSession, error)
	DeleteChat(id string) error
}

// MenuCatalog is the read-only option catalog every chat session sees.
type MenuCatalog interface {
	// ListMenuOptions returns the full catalog ordered by display order ascending.
	ListMenuOptions() ([]domain.MenuOption, error)
	GetMenuOption(id string) (domain.MenuOption, bool, error)
}

// CatalogSeeder is an optional capability for populating an empty catalog.
type CatalogSeeder interface {
	// SeedMenuOptions inserts the given options when the catalog is empty.
	// It does nothing when any option already exists.
	SeedMenuOptions([]domain.MenuOption) error
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(accountID string) (string, error)
	GetAccountIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
