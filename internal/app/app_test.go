package app

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"veridoc/pkg/domain"
	"veridoc/pkg/events"
	"veridoc/pkg/storage"
	"veridoc/pkg/store"
)

type memorySessions struct {
	mu     sync.Mutex
	next   int
	tokens map[string]string
}

func newMemorySessions() *memorySessions {
	return &memorySessions{tokens: make(map[string]string)}
}

func (s *memorySessions) NewSession(accountID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	token := "token-" + strconv.Itoa(s.next)
	s.tokens[token] = accountID
	return token, nil
}

func (s *memorySessions) GetAccountIDByToken(token string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[token]
	return id, ok, nil
}

func (s *memorySessions) DeleteSession(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ChatAnalyzed
}

func (p *recordingPublisher) PublishChatAnalyzed(_ context.Context, e events.ChatAnalyzed) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type testEnv struct {
	app       *App
	objects   *storage.MemoryObjectStore
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	objects := storage.NewMemoryObjectStore()
	publisher := &recordingPublisher{}
	mem := store.NewMemoryStore()
	a, err := New(Config{
		Store:    mem,
		Sessions: newMemorySessions(),
		Objects:  objects,
		Events:   publisher,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return testEnv{app: a, objects: objects, publisher: publisher}
}

func signUp(t *testing.T, a *App, name, email string) domain.Account {
	t.Helper()
	account, _, err := a.SignUp(name, email, "Str0ng!Passw0rd")
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return account
}

func TestSignUpAndLogin(t *testing.T) {
	env := newTestEnv(t)

	account, token, err := env.app.SignUp("Alice", "Alice@Example.COM", "Str0ng!Passw0rd")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if account.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", account.Email)
	}
	if !account.IsAdmin || !account.IsStaff {
		t.Fatal("first account should be admin and staff")
	}
	if token == "" {
		t.Fatal("sign up should issue a session token")
	}
	if resolved, ok := env.app.AccountFromToken(token); !ok || resolved.ID != account.ID {
		t.Fatal("token should resolve to the new account")
	}

	// The login email is matched case-insensitively too.
	logged, token2, err := env.app.Login("ALICE@example.com", "Str0ng!Passw0rd")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if logged.ID != account.ID {
		t.Fatal("login should return the registered account")
	}
	if err := env.app.Logout(token2); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok := env.app.AccountFromToken(token2); ok {
		t.Fatal("token should be invalid after logout")
	}
}

func TestSignUpRejectsDuplicateEmailCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	signUp(t, env.app, "Alice", "alice@example.com")
	if _, _, err := env.app.SignUp("Mallory", "ALICE@EXAMPLE.COM", "Str0ng!Passw0rd"); !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}
}

func TestSecondAccountIsNotAdmin(t *testing.T) {
	env := newTestEnv(t)
	signUp(t, env.app, "Alice", "alice@example.com")
	bob := signUp(t, env.app, "Bob", "bob@example.com")
	if bob.IsAdmin || bob.IsStaff {
		t.Fatal("second account must not be admin")
	}
}

func TestLoginFailuresLookIdentical(t *testing.T) {
	env := newTestEnv(t)
	signUp(t, env.app, "Alice", "alice@example.com")

	_, _, errUnknown := env.app.Login("nobody@example.com", "Str0ng!Passw0rd")
	_, _, errWrongPassword := env.app.Login("alice@example.com", "wrong-password-1A!")
	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrongPassword, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both failures, got %v and %v", errUnknown, errWrongPassword)
	}
	if errUnknown.Error() != errWrongPassword.Error() {
		t.Fatal("failure messages must not distinguish unknown email from wrong password")
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	alice := signUp(t, env.app, "Alice", "alice@example.com")

	if err := env.app.ChangePassword(alice, "wrong-password-1A!", "N3w!Passw0rdXY"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong current password, got %v", err)
	}
	if err := env.app.ChangePassword(alice, "Str0ng!Passw0rd", "N3w!Passw0rdXY"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, _, err := env.app.Login("alice@example.com", "N3w!Passw0rdXY"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, _, err := env.app.Login("alice@example.com", "Str0ng!Passw0rd"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should be rejected, got %v", err)
	}
}

func TestDeleteAccountCascades(t *testing.T) {
	env := newTestEnv(t)
	alice := signUp(t, env.app, "Alice", "alice@example.com")
	bob := signUp(t, env.app, "Bob", "bob@example.com")

	aliceChat, err := env.app.UploadAndCreateChat(alice, "report.pdf", "application/pdf", []byte("alice content"), "")
	if err != nil {
		t.Fatalf("upload for alice: %v", err)
	}
	if _, err := env.app.UploadAndCreateChat(bob, "notes.txt", "text/plain", []byte("bob content"), ""); err != nil {
		t.Fatalf("upload for bob: %v", err)
	}
	if env.objects.Len() != 2 {
		t.Fatalf("expected 2 stored objects, got %d", env.objects.Len())
	}

	deleted, err := env.app.DeleteAccount(alice.ID)
	if err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if !deleted {
		t.Fatal("delete should report the account as removed")
	}
	if _, err := env.app.GetChat(alice, aliceChat.ID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("alice's chat should be gone, got %v", err)
	}
	if env.objects.Len() != 1 {
		t.Fatalf("alice's file object should be gone, %d objects left", env.objects.Len())
	}
	chats, err := env.app.ListChats(bob)
	if err != nil {
		t.Fatalf("list bob's chats: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("bob's chats must survive, got %d", len(chats))
	}

	deleted, err = env.app.DeleteAccount(alice.ID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted {
		t.Fatal("second delete must report not found")
	}
}

func TestPromoteAccount(t *testing.T) {
	env := newTestEnv(t)
	signUp(t, env.app, "Alice", "alice@example.com")
	bob := signUp(t, env.app, "Bob", "bob@example.com")

	if err := env.app.PromoteAccount(bob.ID); err != nil {
		t.Fatalf("promote: %v", err)
	}
	accounts, err := env.app.ListAccounts()
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	for _, a := range accounts {
		if a.ID == bob.ID && (!a.IsAdmin || !a.IsStaff) {
			t.Fatal("promoted account should be admin and staff")
		}
	}
	if err := env.app.PromoteAccount("missing-id"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
