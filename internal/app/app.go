package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"veridoc/pkg/auth"
	"veridoc/pkg/domain"
	"veridoc/pkg/events"
	"veridoc/pkg/storage"
	"veridoc/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	SessionTTL      time.Duration
	SessionStrategy string // "redis" (default) or "jwt"
	JWTSecret       string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	AMQPURL      string
	AMQPExchange string

	Store    store.Store
	Catalog  store.MenuCatalog
	Sessions store.SessionStore
	Objects  storage.ObjectStore
	Events   events.Publisher
}

// App is the core application service wiring storage, sessions and the
// chat/analysis domain logic together.
type App struct {
	store         store.Store
	catalog       store.MenuCatalog
	sessions      store.SessionStore
	objects       storage.ObjectStore
	events        events.Publisher
	presignExpiry time.Duration
}

// New constructs the application. Dependencies left nil in cfg are built from
// the connection settings; tests inject in-memory implementations instead.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	catalog := cfg.Catalog
	if catalog == nil {
		c, ok := dataStore.(store.MenuCatalog)
		if !ok {
			return nil, fmt.Errorf("store does not provide a menu catalog")
		}
		catalog = c
	}
	if seeder, ok := catalog.(store.CatalogSeeder); ok {
		if err := seeder.SeedMenuOptions(defaultMenuOptions()); err != nil {
			return nil, fmt.Errorf("seed menu catalog: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		switch strings.ToLower(strings.TrimSpace(cfg.SessionStrategy)) {
		case "", "redis":
			if strings.TrimSpace(cfg.RedisAddr) == "" {
				return nil, fmt.Errorf("redisAddr is required for redis session strategy")
			}
			sessionStore = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL)
		case "jwt":
			var err error
			sessionStore, err = store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTL)
			if err != nil {
				return nil, fmt.Errorf("init jwt session store: %w", err)
			}
		default:
			return nil, fmt.Errorf("unknown session strategy: %s", cfg.SessionStrategy)
		}
	}

	objectStore := cfg.Objects
	if objectStore == nil {
		var err error
		objectStore, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
	}

	publisher := cfg.Events
	if publisher == nil {
		if strings.TrimSpace(cfg.AMQPURL) == "" {
			publisher = events.NoopPublisher{}
		} else {
			exchange := strings.TrimSpace(cfg.AMQPExchange)
			if exchange == "" {
				exchange = "veridoc.events"
			}
			var err error
			publisher, err = events.NewAMQPPublisher(cfg.AMQPURL, exchange)
			if err != nil {
				return nil, fmt.Errorf("init event publisher: %w", err)
			}
		}
	}

	return &App{
		store:         dataStore,
		catalog:       catalog,
		sessions:      sessionStore,
		objects:       objectStore,
		events:        publisher,
		presignExpiry: 15 * time.Minute,
	}, nil
}

// SignUp registers a new account and issues a session token. The first
// registered account is promoted to admin.
func (a *App) SignUp(displayName, email, password string) (domain.Account, string, error) {
	displayName = strings.TrimSpace(displayName)
	email = strings.TrimSpace(strings.ToLower(email))
	if displayName == "" {
		return domain.Account{}, "", ErrDisplayNameRequired
	}
	if email == "" || password == "" {
		return domain.Account{}, "", ErrEmailAndPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.Account{}, "", err
	}
	exists, err := a.store.HasAccountEmail(email)
	if err != nil {
		return domain.Account{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.Account{}, "", ErrEmailAlreadyExists
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Account{}, "", fmt.Errorf("hash password: %w", err)
	}
	count, err := a.store.AccountCount()
	if err != nil {
		return domain.Account{}, "", fmt.Errorf("count accounts: %w", err)
	}
	account := domain.Account{
		ID:           uuid.NewString(),
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
		IsStaff:      count == 0,
		IsAdmin:      count == 0,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveAccount(account); err != nil {
		return domain.Account{}, "", fmt.Errorf("save account: %w", err)
	}
	token, err := a.sessions.NewSession(account.ID)
	if err != nil {
		return domain.Account{}, "", fmt.Errorf("issue session: %w", err)
	}
	return account, token, nil
}

// Authenticate checks credentials and returns the matching account. Every
// mismatch — unknown email, inactive account, wrong password — yields the same
// (zero account, false) result.
func (a *App) Authenticate(email, password string) (domain.Account, bool, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	account, ok, err := a.store.GetAccountByEmail(email)
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("fetch account: %w", err)
	}
	if !ok || !account.IsActive {
		return domain.Account{}, false, nil
	}
	if !auth.CheckPassword(password, account.PasswordHash) {
		return domain.Account{}, false, nil
	}
	return account, true, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(email, password string) (domain.Account, string, error) {
	account, ok, err := a.Authenticate(email, password)
	if err != nil {
		return domain.Account{}, "", err
	}
	if !ok {
		return domain.Account{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(account.ID)
	if err != nil {
		return domain.Account{}, "", fmt.Errorf("issue session: %w", err)
	}
	return account, token, nil
}

// Logout invalidates the session token.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// AccountFromToken resolves an account from a session token.
func (a *App) AccountFromToken(token string) (domain.Account, bool) {
	id, ok, err := a.sessions.GetAccountIDByToken(token)
	if err != nil || !ok {
		return domain.Account{}, false
	}
	account, found, err := a.store.GetAccountByID(id)
	if err != nil || !found {
		return domain.Account{}, false
	}
	if !account.IsActive {
		return domain.Account{}, false
	}
	return account, true
}

// ChangePassword verifies the current password and stores a new hash.
func (a *App) ChangePassword(account domain.Account, currentPassword, newPassword string) error {
	if !auth.CheckPassword(currentPassword, account.PasswordHash) {
		return ErrInvalidCredentials
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	account.PasswordHash = hash
	if err := a.store.SaveAccount(account); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

// DeleteAccount removes an account and cascades deletion of every chat it
// owns, including the stored file objects. Returns false when the account
// does not exist.
func (a *App) DeleteAccount(id string) (bool, error) {
	chats, err := a.store.ListChatsByOwner(id)
	if err != nil {
		return false, fmt.Errorf("list chats: %w", err)
	}
	storageKeys := make([]string, 0, len(chats))
	for _, chat := range chats {
		file, ok, err := a.store.GetFile(chat.FileID)
		if err != nil {
			return false, fmt.Errorf("fetch file: %w", err)
		}
		if ok {
			storageKeys = append(storageKeys, file.StorageKey)
		}
	}
	deleted, err := a.store.DeleteAccount(id)
	if err != nil {
		return false, fmt.Errorf("delete account: %w", err)
	}
	if !deleted {
		return false, nil
	}
	a.deleteObjects(storageKeys)
	return true, nil
}

// PromoteAccount grants admin and staff flags to an account.
func (a *App) PromoteAccount(id string) error {
	account, ok, err := a.store.GetAccountByID(id)
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}
	if !ok {
		return ErrAccountNotFound
	}
	account.IsAdmin = true
	account.IsStaff = true
	if err := a.store.SaveAccount(account); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

// ListAccounts returns all accounts (admin use only).
func (a *App) ListAccounts() ([]domain.Account, error) {
	return a.store.ListAccounts()
}
