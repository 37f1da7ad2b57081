package app

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"veridoc/pkg/docinfo"
	"veridoc/pkg/domain"
	"veridoc/pkg/events"
)

const (
	analyzingResultText   = "Analyzing document..."
	reanalyzingResultText = "Re-analyzing document..."
	optionNotFoundResult  = "Option not found"
)

// UploadAndCreateChat stores the uploaded document and creates the chat
// session that owns it. This is the only way a chat comes into existence.
// The default title is "Chat about <name>" unless titleOverride is given.
func (a *App) UploadAndCreateChat(account domain.Account, name, mimeType string, content []byte, titleOverride string) (domain.ChatSession, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ChatSession{}, ErrFileNameRequired
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	now := time.Now().UTC()
	fileID := uuid.NewString()
	storageKey := buildStorageKey(fileID, name)
	info := docinfo.Inspect(name, content)
	file := domain.File{
		ID:         fileID,
		Name:       name,
		MimeType:   mimeType,
		StorageKey: storageKey,
		SizeBytes:  info.SizeBytes,
		PageCount:  info.PageCount,
		UploadedAt: now,
	}
	if err := a.objects.Put(context.Background(), storageKey, bytes.NewReader(content), info.SizeBytes, mimeType); err != nil {
		return domain.ChatSession{}, fmt.Errorf("save file content: %w", err)
	}
	if err := a.store.SaveFile(file); err != nil {
		_ = a.objects.Delete(context.Background(), storageKey)
		return domain.ChatSession{}, fmt.Errorf("save file: %w", err)
	}
	title := strings.TrimSpace(titleOverride)
	if title == "" {
		title = "Chat about " + name
	}
	chat := domain.ChatSession{
		ID:                uuid.NewString(),
		AccountID:         account.ID,
		FileID:            file.ID,
		Title:             title,
		CreatedAt:         now,
		LastInteractionAt: now,
	}
	if err := a.store.SaveChat(chat); err != nil {
		_ = a.objects.Delete(context.Background(), storageKey)
		return domain.ChatSession{}, fmt.Errorf("save chat: %w", err)
	}
	return chat, nil
}

// ListChats returns the account's chat sessions.
func (a *App) ListChats(account domain.Account) ([]domain.ChatSession, error) {
	return a.store.ListChatsByOwner(account.ID)
}

// GetChat returns an owned chat, running the first analysis when the chat has
// none yet: a session is never shown without an analysis record.
func (a *App) GetChat(account domain.Account, chatID string) (domain.ChatSession, error) {
	chat, err := a.findOwnedChat(account, chatID)
	if err != nil {
		return domain.ChatSession{}, err
	}
	if chat.Analysis == nil {
		return a.runAnalysis(chat)
	}
	return chat, nil
}

// ReanalyzeChat re-runs the analysis of an owned chat. A first call creates
// the record; later calls overwrite its result text in place, leaving trust
// score and categories untouched.
func (a *App) ReanalyzeChat(account domain.Account, chatID string) (domain.ChatSession, error) {
	chat, err := a.findOwnedChat(account, chatID)
	if err != nil {
		return domain.ChatSession{}, err
	}
	return a.runAnalysis(chat)
}

// SelectChatOption resolves a menu option for an owned chat. An unknown
// option id yields the "Option not found" result, not an error.
func (a *App) SelectChatOption(account domain.Account, chatID, optionID string) (string, error) {
	if _, err := a.findOwnedChat(account, chatID); err != nil {
		return "", err
	}
	option, ok, err := a.catalog.GetMenuOption(optionID)
	if err != nil {
		return "", fmt.Errorf("fetch option: %w", err)
	}
	if !ok {
		return optionNotFoundResult, nil
	}
	return "Option: " + option.Description, nil
}

// ViewChatFile returns the owned chat's file metadata and a pre-signed
// download URL for its content.
func (a *App) ViewChatFile(account domain.Account, chatID string) (domain.File, string, error) {
	chat, err := a.findOwnedChat(account, chatID)
	if err != nil {
		return domain.File{}, "", err
	}
	file, ok, err := a.store.GetFile(chat.FileID)
	if err != nil {
		return domain.File{}, "", fmt.Errorf("fetch file: %w", err)
	}
	if !ok {
		return domain.File{}, "", ErrChatNotFound
	}
	url, err := a.objects.PresignGet(context.Background(), file.StorageKey, a.presignExpiry)
	if err != nil {
		return domain.File{}, "", fmt.Errorf("presign download: %w", err)
	}
	return file, url, nil
}

// DeleteChat removes an owned chat together with its file.
func (a *App) DeleteChat(account domain.Account, chatID string) error {
	chat, err := a.findOwnedChat(account, chatID)
	if err != nil {
		return err
	}
	var storageKeys []string
	if file, ok, err := a.store.GetFile(chat.FileID); err == nil && ok {
		storageKeys = append(storageKeys, file.StorageKey)
	}
	if err := a.store.DeleteChat(chat.ID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	a.deleteObjects(storageKeys)
	return nil
}

// ListMenuOptions returns the shared catalog, ordered by display order.
func (a *App) ListMenuOptions() ([]domain.MenuOption, error) {
	return a.catalog.ListMenuOptions()
}

// findOwnedChat is the single ownership-scoped lookup every chat operation
// goes through. A chat owned by another account is reported as not found.
func (a *App) findOwnedChat(account domain.Account, chatID string) (domain.ChatSession, error) {
	chat, ok, err := a.store.GetChat(chatID)
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("fetch chat: %w", err)
	}
	if !ok || chat.AccountID != account.ID {
		return domain.ChatSession{}, ErrChatNotFound
	}
	return chat, nil
}

// runAnalysis writes the analysis record and persists the chat. The record is
// replaced as a whole, so concurrent calls end last-writer-wins without a
// torn record.
func (a *App) runAnalysis(chat domain.ChatSession) (domain.ChatSession, error) {
	now := time.Now().UTC()
	if chat.Analysis == nil {
		chat.Analysis = &domain.AnalysisRecord{
			ID:         uuid.NewString(),
			ResultText: analyzingResultText,
			TrustScore: 0.0,
			Categories: map[string]any{},
			AnalyzedAt: now,
		}
	} else {
		chat.Analysis.ResultText = reanalyzingResultText
		chat.Analysis.AnalyzedAt = now
	}
	chat.LastInteractionAt = now
	if err := a.store.SaveChat(chat); err != nil {
		return domain.ChatSession{}, fmt.Errorf("save chat: %w", err)
	}
	event := events.ChatAnalyzed{
		ChatID:     chat.ID,
		AccountID:  chat.AccountID,
		ResultText: chat.Analysis.ResultText,
		TrustScore: chat.Analysis.TrustScore,
		AnalyzedAt: chat.Analysis.AnalyzedAt,
	}
	if err := a.events.PublishChatAnalyzed(context.Background(), event); err != nil {
		// The analysis itself is already persisted; a broker outage must not
		// fail the request.
		slog.Warn("publish chat.analyzed failed", "chat_id", chat.ID, "err", err)
	}
	return chat, nil
}

func (a *App) deleteObjects(keys []string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := a.objects.Delete(context.Background(), key); err != nil {
			slog.Warn("delete stored object failed", "key", key, "err", err)
		}
	}
}

func buildStorageKey(fileID, filename string) string {
	name := sanitizeFilename(path.Base(filename))
	if name == "" {
		name = "document"
	}
	return path.Join("files", fileID, name)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
