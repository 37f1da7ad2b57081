package domain

import "time"

// Account is a registered user of the service.
type Account struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"isActive"`
	IsStaff      bool      `json:"isStaff"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
}

// File is the metadata of one uploaded document. The content bytes live in
// object storage under StorageKey; the record itself is immutable once stored.
type File struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mimeType"`
	StorageKey string    `json:"-"`
	SizeBytes  int64     `json:"sizeBytes"`
	PageCount  int       `json:"pageCount,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// MenuOption is one entry of the global, read-only action catalog shown for
// every chat.
type MenuOption struct {
	ID           string `json:"id"`
	Description  string `json:"description"`
	Icon         string `json:"icon,omitempty"`
	DisplayOrder int    `json:"displayOrder"`
}

// AnalysisRecord is the embedded outcome of the fake-news analysis of a chat.
// It has no lifecycle of its own: it is created lazily on first view and
// overwritten in place on every re-analysis.
type AnalysisRecord struct {
	ID         string         `json:"id"`
	ResultText string         `json:"resultText"`
	TrustScore float64        `json:"trustScore"`
	Categories map[string]any `json:"categories"`
	AnalyzedAt time.Time      `json:"analyzedAt"`
}

// ChatSession binds one account, one uploaded file and the evolving analysis
// outcome. AccountID and FileID are fixed at creation.
type ChatSession struct {
	ID                string          `json:"id"`
	AccountID         string          `json:"accountId"`
	FileID            string          `json:"fileId"`
	Title             string          `json:"title,omitempty"`
	Analysis          *AnalysisRecord `json:"analysis,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	LastInteractionAt time.Time       `json:"lastInteractionAt"`
}
