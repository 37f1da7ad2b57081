package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"veridoc/pkg/domain"
)

const migrateLockID int64 = 48120331

// GormStore implements Store and MenuCatalog using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&AccountModel{}, &FileModel{}, &MenuOptionModel{}, &ChatModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM chat_models c
				WHERE NOT EXISTS (SELECT 1 FROM account_models a WHERE a.id = c.account_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chat_models'
					AND constraint_name = 'chat_models_account_id_fkey'
				) THEN
					ALTER TABLE chat_models
					ADD CONSTRAINT chat_models_account_id_fkey
					FOREIGN KEY (account_id) REFERENCES account_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure chat foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveAccount registers or updates an account.
func (s *GormStore) SaveAccount(a domain.Account) error {
	model := accountToModel(a)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "email", "password_hash", "is_active", "is_staff", "is_admin"}),
	}).Create(&model).Error
}

// HasAccountEmail checks if the email is already registered.
func (s *GormStore) HasAccountEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&AccountModel{}).Where("lower(email) = lower(?)", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetAccountByEmail looks up an account by email.
func (s *GormStore) GetAccountByEmail(email string) (domain.Account, bool, error) {
	var model AccountModel
	if err := s.db.Where("lower(email) = lower(?)", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, err
	}
	return accountFromModel(model), true, nil
}

// GetAccountByID returns an account by ID.
func (s *GormStore) GetAccountByID(id string) (domain.Account, bool, error) {
	var model AccountModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, err
	}
	return accountFromModel(model), true, nil
}

// ListAccounts returns all accounts ordered by created_at.
func (s *GormStore) ListAccounts() ([]domain.Account, error) {
	var models []AccountModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Account, 0, len(models))
	for _, m := range models {
		res = append(res, accountFromModel(m))
	}
	return res, nil
}

// AccountCount returns the number of accounts.
func (s *GormStore) AccountCount() (int, error) {
	var count int64
	if err := s.db.Model(&AccountModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// DeleteAccount removes the account, its chats and the files those chats own.
func (s *GormStore) DeleteAccount(id string) (bool, error) {
	deleted := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var account AccountModel
		if err := tx.First(&account, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		var fileIDs []string
		if err := tx.Model(&ChatModel{}).Where("account_id = ?", id).Pluck("file_id", &fileIDs).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ChatModel{}, "account_id = ?", id).Error; err != nil {
			return err
		}
		if len(fileIDs) > 0 {
			if err := tx.Delete(&FileModel{}, "id IN ?", fileIDs).Error; err != nil {
				return err
			}
		}
		if err := tx.Delete(&AccountModel{}, "id = ?", id).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// SaveFile stores file metadata. Files are immutable, so conflicts are ignored.
func (s *GormStore) SaveFile(f domain.File) error {
	model := fileToModel(f)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&model).Error
}

// GetFile retrieves file metadata.
func (s *GormStore) GetFile(id string) (domain.File, bool, error) {
	var model FileModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.File{}, false, nil
		}
		return domain.File{}, false, err
	}
	return fileFromModel(model), true, nil
}

// SaveChat stores or updates a chat session including its embedded analysis.
func (s *GormStore) SaveChat(c domain.ChatSession) error {
	model, err := chatToModel(c)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "analysis", "last_interaction_at"}),
	}).Create(&model).Error
}

// GetChat retrieves a chat session.
func (s *GormStore) GetChat(id string) (domain.ChatSession, bool, error) {
	var model ChatModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ChatSession{}, false, nil
		}
		return domain.ChatSession{}, false, err
	}
	chat, err := chatFromModel(model)
	if err != nil {
		return domain.ChatSession{}, false, err
	}
	return chat, true, nil
}

// ListChatsByOwner returns the owner's chats ordered by creation time.
func (s *GormStore) ListChatsByOwner(accountID string) ([]domain.ChatSession, error) {
	var models []ChatModel
	if err := s.db.Where("account_id = ?", accountID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ChatSession, 0, len(models))
	for _, m := range models {
		chat, err := chatFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, chat)
	}
	return res, nil
}

// DeleteChat removes a chat and the file it owns.
func (s *GormStore) DeleteChat(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var chat ChatModel
		if err := tx.First(&chat, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		if err := tx.Delete(&ChatModel{}, "id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&FileModel{}, "id = ?", chat.FileID).Error
	})
}

// ListMenuOptions returns the catalog ordered by display order ascending.
func (s *GormStore) ListMenuOptions() ([]domain.MenuOption, error) {
	var models []MenuOptionModel
	if err := s.db.Order("display_order ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.MenuOption, 0, len(models))
	for _, m := range models {
		res = append(res, menuOptionFromModel(m))
	}
	return res, nil
}

// GetMenuOption returns one catalog entry by ID.
func (s *GormStore) GetMenuOption(id string) (domain.MenuOption, bool, error) {
	var model MenuOptionModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.MenuOption{}, false, nil
		}
		return domain.MenuOption{}, false, err
	}
	return menuOptionFromModel(model), true, nil
}

// SeedMenuOptions inserts the options when the catalog is empty.
func (s *GormStore) SeedMenuOptions(options []domain.MenuOption) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&MenuOptionModel{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		for _, option := range options {
			model := menuOptionToModel(option)
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func accountToModel(a domain.Account) AccountModel {
	return AccountModel{
		ID:           a.ID,
		DisplayName:  a.DisplayName,
		Email:        a.Email,
		PasswordHash: a.PasswordHash,
		IsActive:     a.IsActive,
		IsStaff:      a.IsStaff,
		IsAdmin:      a.IsAdmin,
		CreatedAt:    a.CreatedAt,
	}
}

func accountFromModel(m AccountModel) domain.Account {
	return domain.Account{
		ID:           m.ID,
		DisplayName:  m.DisplayName,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		IsActive:     m.IsActive,
		IsStaff:      m.IsStaff,
		IsAdmin:      m.IsAdmin,
		CreatedAt:    m.CreatedAt,
	}
}

func fileToModel(f domain.File) FileModel {
	return FileModel{
		ID:         f.ID,
		Name:       f.Name,
		MimeType:   f.MimeType,
		StorageKey: f.StorageKey,
		SizeBytes:  f.SizeBytes,
		PageCount:  f.PageCount,
		UploadedAt: f.UploadedAt,
	}
}

func fileFromModel(m FileModel) domain.File {
	return domain.File{
		ID:         m.ID,
		Name:       m.Name,
		MimeType:   m.MimeType,
		StorageKey: m.StorageKey,
		SizeBytes:  m.SizeBytes,
		PageCount:  m.PageCount,
		UploadedAt: m.UploadedAt,
	}
}

func menuOptionToModel(o domain.MenuOption) MenuOptionModel {
	return MenuOptionModel{
		ID:           o.ID,
		Description:  o.Description,
		Icon:         o.Icon,
		DisplayOrder: o.DisplayOrder,
	}
}

func menuOptionFromModel(m MenuOptionModel) domain.MenuOption {
	return domain.MenuOption{
		ID:           m.ID,
		Description:  m.Description,
		Icon:         m.Icon,
		DisplayOrder: m.DisplayOrder,
	}
}

func chatToModel(c domain.ChatSession) (ChatModel, error) {
	model := ChatModel{
		ID:                c.ID,
		AccountID:         c.AccountID,
		FileID:            c.FileID,
		Title:             c.Title,
		CreatedAt:         c.CreatedAt,
		LastInteractionAt: c.LastInteractionAt,
	}
	if c.Analysis != nil {
		raw, err := json.Marshal(c.Analysis)
		if err != nil {
			return ChatModel{}, fmt.Errorf("marshal analysis: %w", err)
		}
		model.Analysis = datatypes.JSON(raw)
	}
	return model, nil
}

func chatFromModel(m ChatModel) (domain.ChatSession, error) {
	chat := domain.ChatSession{
		ID:                m.ID,
		AccountID:         m.AccountID,
		FileID:            m.FileID,
		Title:             m.Title,
		CreatedAt:         m.CreatedAt,
		LastInteractionAt: m.LastInteractionAt,
	}
	if len(m.Analysis) > 0 {
		var analysis domain.AnalysisRecord
		if err := json.Unmarshal(m.Analysis, &analysis); err != nil {
			return domain.ChatSession{}, fmt.Errorf("unmarshal analysis: %w", err)
		}
		chat.Analysis = &analysis
	}
	return chat, nil
}
