package app

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestUploadCreatesChatWithDefaultTitle(t *testing.T) {
	env := newTestEnv(t)
	alice := signUp(t, env.app, "Alice", "alice@example.com")

	chat, err := env.app.UploadAndCreateChat(alice, "election claims.pdf", "application/pdf", []byte("document body"), "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if chat.Title != "Chat about election claims.pdf" {
		t.Fatalf("default title wrong: %q", chat.Title)
	}
	if chat.AccountID != alice.ID {
		t.Fatal("chat must belong to the uploader")
	}
	if chat.Analysis != nil {
		t.Fatal("a fresh chat carries no analysis yet")
	}

	file, url, err := env.app.ViewChatFile(alice, chat.ID)
	if err != nil {
		t.Fatalf("view file: %v", err)
	}
	if file.Name != "election claims.pdf" {
		t.Fatalf("file name wrong: %q", file.Name)
	}
	if file.SizeBytes != int64(len("document body")) {
		t.Fatalf("size wrong: %d", file.SizeBytes)
	}
	if !strings.Contains(file.StorageKey, "election_claims.pdf") {
		t.Fatalf("storage key should carry a sanitized name: %q", file.StorageKey)
	}
	if url == "" {
		t.Fatal("expected a download URL")
	}
}

func TestUploadWithExplicitTitle(t *testing.T) {
	env := newTestEnv(t)
	alice := signUp(t, env.app, "Alice", "alice@example.com")

	chat, err := env.app.UploadAndCreateChat(alice, "doc.txt", "text/plain", []byte("x"), "My investigation")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if chat.Title != "My investigation" {
		t.Fatalf("explicit title ignored: %q", chat.Title)
	}
}

func TestUploadRequiresFileName(t *testing.T) {
	env := newTestEnv(t)
	alice := signUp(t, env.app, "Alice", "alice@example.com")
	if _, err := env.app.UploadAndCreateChat(alice, "   ", "text/plain", []byte("x"), ""); !errors.Is(err, ErrFileNameRequired) {
		t.Fatalf("expected ErrFileNameRequired, got %v", err)
	}
}

func TestGetChatRunsFirstAnalysis(t *testing.T) {
	env := newTestEnv(t)
	alice := signUp(t, env.app, "Alice", "alice@example.com")
	created, err := env.app.UploadAndCreateChat(alice, "doc.txt", "text/plain", []byte("x"), "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	chat, err := env.app.GetChat(alice, created.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if chat.Analysis == nil {
		t.Fatal("viewing a chat must create the analysis record")
	}
	if chat.Analysis.ResultText != "Analyzing document..." {
		t.Fatalf("first analysis text wrong: %q", chat.Analysis.ResultText)
	}
	if chat.Analysis.TrustScore != 0.0 {
		t.Fatalf("first analysis trust score must be 0, got %v", chat.Analysis.TrustScore)
	}
	if env.publisher.count() != 1 {
		t.Fatalf("expected one chat.analyzed event, got %d", env.publisher.count())
	}

	// A second view must not re-run the analysis.
	again, err := env.app.GetChat(alice, created.ID)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if again.Analysis.ID != chat.Analysis.ID {
		t.Fatal("second view must keep the existing record")
	}
	if env.publisher.count() != 1 {
		t.Fatal("second view must not publish another event")
	}
}

func TestReanalyzeKeepsScoreAndCategories(t *testing.T) {
	env := newTestEnv(t)
	alice := signUp(t, env.app, "Alice", "alice@example.com")
	created, err := env.app.UploadAndCreateChat(alice, "doc.txt", "text/plain", []byte("x"), "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	first, err := env.app.ReanalyzeChat(alice, created.ID)
	if err != nil {
		t.Fatalf("first reanalyze: %v", err)
	}
	if first.Analysis.ResultText != "Analyzing document..." {
		t.Fatalf("first pass text wrong: %q", first.Analysis.ResultText)
	}

	// Simulate an enriched record written by a downstream worker.
	first.Analysis.TrustScore = 0.73
	first.Analysis.Categories = map[string]any{"clickbait": true}
	if err := env.app.store.SaveChat(first); err != nil {
		t.Fatalf("save enriched chat: %v", err)
	}

	second, err := env.app.ReanalyzeChat(alice, created.ID)
	if err != nil {
		t.Fatalf("second reanalyze: %v", err)
	}
	if second.Analysis.ID != first.Analysis.ID {
		t.Fatal("reanalyze must keep the same record, not create a new one")
	}
	if second.Analysis.ResultText != "Re-analyzing document..." {
		t.Fatalf("second pass text wrong: %q", second.Analysis.ResultText)
	}
	if second.Analysis.TrustScore != 0.73 {
		t.Fatalf("trust score must survive reanalysis, got %v", second.Analysis.TrustScore)
	}
	if v, ok := second.Analysis.Categories["clickbait"]; !ok || v != true {
		t.Fatalf("categories must survive reanalysis, got %v", second.Analysis.Categories)
	}
	if !second.LastInteractionAt.After(created.LastInteractionAt) && !second.LastInteractionAt.Equal(created.LastInteractionAt) {
		t.Fatal("reanalysis must refresh last interaction time")
	}
	if env.publisher.count() != 2 {
		t.Fatalf("expected two chat.analyzed events, got %d", env.publisher.count())
	}
}

func TestChatOwnershipIsEnforced(t *testing.T) {
	env := newTestEnv(t)
	alice := signUp(t, env.app, "Alice", "alice@example.com")
	bob := signUp(t, env.app, "Bob", "bob@example.com")
	chat, err := env.app.UploadAndCreateChat(alice, "doc.txt", "text/plain", []byte("x"), "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if _, err := env.app.GetChat(bob, chat.ID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("foreign get should look like not-found, got %v", err)
	}
	if _, err := env.app.ReanalyzeChat(bob, chat.ID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("foreign reanalyze should look like not-found, got %v", err)
	}
	if _, _, err := env.app.ViewChatFile(bob, chat.ID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("foreign file view should look like not-found, got %v", err)
	}
	if err := env.app.DeleteChat(bob, chat.ID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("foreign delete should look like not-found, got %v", err)
	}
	if _, err := env.app.GetChat(alice, chat.ID); err != nil {
		t.Fatalf("owner access must still work: %v", err)
	}
}

func TestListChatsReturnsOnlyOwnChats(t *testing.T) {
	env := newTestEnv(t)
	alice := signUp(t, env.app, "Alice", "alice@example.com")
	bob := signUp(t, env.app, "Bob", "bob@example.com")

	first, err := env.app.UploadAndCreateChat(alice, "a.txt", "text/plain", []byte("a"), "")
	if err != nil {
		t.Fatalf("upload a: %v", err)
	}
	second, err := env.app.UploadAndCreateChat(alice, "b.txt", "text/plain", []byte("b"), "")
	if err != nil {
		t.Fatalf("upload b: %v", err)
	}
	if _, err := env.app.UploadAndCreateChat(bob, "c.txt", "text/plain", []byte("c"), ""); err != nil {
		t.Fatalf("upload c: %v", err)
	}

	chats, err := env.app.ListChats(alice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(chats))
	}
	if chats[0].ID != first.ID || chats[1].ID != second.ID {
		t.Fatal("chats must come back in creation order")
	}
}

func TestDeleteChatRemovesFileObject(t *testing.T) {
	env := newTestEnv(t)
	alice := signUp(t, env.app, "Alice", "alice@example.com")
	chat, err := env.app.UploadAndCreateChat(alice, "doc.txt", "text/plain", []byte("x"), "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := env.app.DeleteChat(alice, chat.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if env.objects.Len() != 0 {
		t.Fatalf("file object should be gone, %d objects left", env.objects.Len())
	}
	if _, err := env.app.GetChat(alice, chat.ID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("deleted chat should be gone, got %v", err)
	}
}

func TestMenuOptionsOrderedAndResolvable(t *testing.T) {
	env := newTestEnv(t)
	alice := signUp(t, env.app, "Alice", "alice@example.com")
	chat, err := env.app.UploadAndCreateChat(alice, "doc.txt", "text/plain", []byte("x"), "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	options, err := env.app.ListMenuOptions()
	if err != nil {
		t.Fatalf("list options: %v", err)
	}
	if len(options) != 4 {
		t.Fatalf("expected seeded catalog of 4, got %d", len(options))
	}
	for i := 1; i < len(options); i++ {
		if options[i-1].DisplayOrder > options[i].DisplayOrder {
			t.Fatal("options must be sorted by display order")
		}
	}

	result, err := env.app.SelectChatOption(alice, chat.ID, options[0].ID)
	if err != nil {
		t.Fatalf("select option: %v", err)
	}
	if result != "Option: "+options[0].Description {
		t.Fatalf("option result wrong: %q", result)
	}

	missing, err := env.app.SelectChatOption(alice, chat.ID, "no-such-option")
	if err != nil {
		t.Fatalf("select unknown option: %v", err)
	}
	if missing != "Option not found" {
		t.Fatalf("unknown option result wrong: %q", missing)
	}

	// Selecting an option never mutates the chat.
	before, err := env.app.GetChat(alice, chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if _, err := env.app.SelectChatOption(alice, chat.ID, options[1].ID); err != nil {
		t.Fatalf("select option: %v", err)
	}
	after, err := env.app.GetChat(alice, chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if !after.LastInteractionAt.Equal(before.LastInteractionAt) || after.Analysis.ID != before.Analysis.ID {
		t.Fatal("selecting an option must not change chat state")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"my file (final).pdf", "my_file_final_.pdf"},
		{"déjà vu.txt", "d_j_vu.txt"},
		{"***", ""},
	}
	for _, c := range cases {
		if got := sanitizeFilename(c.in); got != c.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
	key := buildStorageKey("abc", "../../etc/passwd")
	if key != "files/abc/passwd" {
		t.Errorf("buildStorageKey path traversal: %q", key)
	}
	if !strings.HasPrefix(buildStorageKey("abc", "***"), "files/abc/document") {
		t.Error("empty sanitized name should fall back to a placeholder")
	}
}

func TestAnalysisTimestampsAreUTC(t *testing.T) {
	env := newTestEnv(t)
	alice := signUp(t, env.app, "Alice", "alice@example.com")
	chat, err := env.app.UploadAndCreateChat(alice, "doc.txt", "text/plain", []byte("x"), "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	got, err := env.app.GetChat(alice, chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got.Analysis.AnalyzedAt.Location() != time.UTC {
		t.Fatal("analysis timestamps should be UTC")
	}
}
