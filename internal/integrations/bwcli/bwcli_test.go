package bwcli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"agent-keys/internal/domain"
)

type recordedCall struct {
	interactive bool
	args        []string
}

type stubRunner struct {
	calls     []recordedCall
	responses map[string]string
	failures  map[string]error
}

func (s *stubRunner) run(_ context.Context, interactive bool, args ...string) ([]byte, error) {
	s.calls = append(s.calls, recordedCall{interactive: interactive, args: args})
	key := strings.Join(args, " ")
	for prefix, err := range s.failures {
		if strings.HasPrefix(key, prefix) {
			return nil, err
		}
	}
	for prefix, out := range s.responses {
		if strings.HasPrefix(key, prefix) {
			return []byte(out), nil
		}
	}
	return nil, nil
}

func (s *stubRunner) commandWords(t *testing.T) []string {
	t.Helper()
	words := make([]string, 0, len(s.calls))
	for _, call := range s.calls {
		words = append(words, commandWord(call.args))
	}
	return words
}

func newTestClient(runner *stubRunner) *Client {
	c := New(domain.Config{FolderID: "folder-1", SyncVault: true})
	c.DebugOut = io.Discard
	c.run = runner.run
	c.lookPath = func(string) (string, error) { return "/usr/bin/bw", nil }
	return c
}

const folderListing = `[
  {"id": "item-a", "name": "server a", "login": {"password": "pw-a"}},
  {"id": "item-b", "name": "server b", "login": {"password": "  pw-b\n"}},
  {"id": "item-null", "name": "no pass", "login": {"password": null}}
]`

func TestFetchSecretFromFolderListing(t *testing.T) {
	runner := &stubRunner{responses: map[string]string{"list items": folderListing}}
	c := newTestClient(runner)
	t.Setenv("BW_SESSION", "sess-1")

	got, err := c.FetchSecret(context.Background(), "item-a")
	if err != nil {
		t.Fatalf("fetch secret: %v", err)
	}
	if got != "pw-a" {
		t.Fatalf("passphrase mismatch: %q", got)
	}

	got, err = c.FetchSecret(context.Background(), "item-b")
	if err != nil {
		t.Fatalf("fetch second secret: %v", err)
	}
	if got != "pw-b" {
		t.Fatalf("expected trimmed passphrase, got %q", got)
	}

	// One sync and one listing for the whole run; the folder items are
	// cached across lookups.
	words := runner.commandWords(t)
	if len(words) != 2 || words[0] != "sync" || words[1] != "list" {
		t.Fatalf("unexpected bw invocations: %v", words)
	}
}

func TestFetchSecretScopesListingToFolder(t *testing.T) {
	runner := &stubRunner{responses: map[string]string{"list items": "[]"}}
	c := newTestClient(runner)
	t.Setenv("BW_SESSION", "sess-1")

	if _, err := c.FetchSecret(context.Background(), "item-a"); err == nil {
		t.Fatalf("expected lookup failure")
	}

	listCall := runner.calls[len(runner.calls)-1].args
	joined := strings.Join(listCall, " ")
	if !strings.Contains(joined, "--folderid folder-1") {
		t.Fatalf("listing not scoped to folder: %v", listCall)
	}
	if !strings.Contains(joined, "--session sess-1") {
		t.Fatalf("listing did not reuse the session: %v", listCall)
	}
}

func TestFetchSecretUnknownItem(t *testing.T) {
	runner := &stubRunner{responses: map[string]string{"list items": folderListing}}
	c := newTestClient(runner)
	t.Setenv("BW_SESSION", "sess-1")

	_, err := c.FetchSecret(context.Background(), "item-zzz")
	if !errors.Is(err, domain.ErrVaultItemNotFound) {
		t.Fatalf("expected ErrVaultItemNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "item-zzz") {
		t.Fatalf("error should name the item: %v", err)
	}
}

func TestFetchSecretNullPassphrase(t *testing.T) {
	runner := &stubRunner{responses: map[string]string{"list items": folderListing}}
	c := newTestClient(runner)
	t.Setenv("BW_SESSION", "sess-1")

	_, err := c.FetchSecret(context.Background(), "item-null")
	if !errors.Is(err, domain.ErrVaultItemNotFound) {
		t.Fatalf("expected ErrVaultItemNotFound for null passphrase, got %v", err)
	}
}

func TestEnsureSessionNonInteractiveWithoutSession(t *testing.T) {
	runner := &stubRunner{}
	c := newTestClient(runner)
	t.Setenv("BW_SESSION", "")

	_, err := c.FetchSecret(context.Background(), "item-a")
	if !errors.Is(err, domain.ErrVaultAuth) {
		t.Fatalf("expected ErrVaultAuth, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("no bw call should happen without a session: %v", runner.calls)
	}
}

type memoryCache struct {
	token   string
	cleared bool
}

func (m *memoryCache) LoadSession() (string, error) { return m.token, nil }
func (m *memoryCache) SaveSession(tok string) error { m.token = tok; return nil }
func (m *memoryCache) ClearSession() error { m.token = ""; m.cleared = true; return nil }

func TestEnsureSessionFromCache(t *testing.T) {
	runner := &stubRunner{responses: map[string]string{"list items": folderListing}}
	c := newTestClient(runner)
	c.Cache = &memoryCache{token: "cached-tok"}
	t.Setenv("BW_SESSION", "")

	got, err := c.FetchSecret(context.Background(), "item-a")
	if err != nil {
		t.Fatalf("fetch with cached session: %v", err)
	}
	if got != "pw-a" {
		t.Fatalf("passphrase mismatch: %q", got)
	}

	words := runner.commandWords(t)
	if words[0] != "unlock" {
		t.Fatalf("cached token should be validated with unlock --check: %v", words)
	}
}

func TestEnsureSessionDiscardsStaleCache(t *testing.T) {
	runner := &stubRunner{failures: map[string]error{"unlock --check": fmt.Errorf("exit status 1")}}
	c := newTestClient(runner)
	cache := &memoryCache{token: "stale-tok"}
	c.Cache = cache
	t.Setenv("BW_SESSION", "")

	_, err := c.FetchSecret(context.Background(), "item-a")
	if !errors.Is(err, domain.ErrVaultAuth) {
		t.Fatalf("expected ErrVaultAuth, got %v", err)
	}
	if !cache.cleared {
		t.Fatalf("stale cached token should have been cleared")
	}
}

func TestInteractiveUnlockStoresSessionInCache(t *testing.T) {
	runner := &stubRunner{
		responses: map[string]string{
			"login --check": "",
			"--raw unlock":  "fresh-tok\n",
			"list items":    folderListing,
		},
	}
	c := newTestClient(runner)
	c.AllowInteractive = true
	cache := &memoryCache{}
	c.Cache = cache
	t.Setenv("BW_SESSION", "")

	if _, err := c.FetchSecret(context.Background(), "item-a"); err != nil {
		t.Fatalf("fetch after unlock: %v", err)
	}
	if cache.token != "fresh-tok" {
		t.Fatalf("unlock token not cached: %q", cache.token)
	}

	var unlockCall *recordedCall
	for i := range runner.calls {
		if commandWord(runner.calls[i].args) == "unlock" && runner.calls[i].interactive {
			unlockCall = &runner.calls[i]
		}
	}
	if unlockCall == nil {
		t.Fatalf("expected an interactive unlock call: %v", runner.calls)
	}
}

func TestInteractiveLoginWhenNotLoggedIn(t *testing.T) {
	runner := &stubRunner{
		responses: map[string]string{
			"--raw login": "login-tok",
			"list items":  folderListing,
		},
		failures: map[string]error{"login --check": fmt.Errorf("exit status 1")},
	}
	c := newTestClient(runner)
	c.AllowInteractive = true
	t.Setenv("BW_SESSION", "")

	if _, err := c.FetchSecret(context.Background(), "item-a"); err != nil {
		t.Fatalf("fetch after login: %v", err)
	}

	words := runner.commandWords(t)
	sawLogin := false
	for _, w := range words {
		if w == "login" {
			sawLogin = true
		}
	}
	if !sawLogin {
		t.Fatalf("expected a login call: %v", words)
	}
}

func TestLockClearsCache(t *testing.T) {
	runner := &stubRunner{}
	c := newTestClient(runner)
	cache := &memoryCache{token: "tok"}
	c.Cache = cache
	t.Setenv("BW_SESSION", "")

	if err := c.Lock(context.Background()); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !cache.cleared {
		t.Fatalf("lock should clear the cached session")
	}
	words := runner.commandWords(t)
	if len(words) != 1 || words[0] != "lock" {
		t.Fatalf("unexpected bw invocations: %v", words)
	}
}

func TestListingFailureIsCachedAcrossLookups(t *testing.T) {
	runner := &stubRunner{failures: map[string]error{"list items": fmt.Errorf("exit status 1")}}
	c := newTestClient(runner)
	t.Setenv("BW_SESSION", "sess-1")

	for _, itemID := range []string{"item-a", "item-b"} {
		_, err := c.FetchSecret(context.Background(), itemID)
		if !errors.Is(err, domain.ErrVaultAuth) {
			t.Fatalf("expected ErrVaultAuth for %s, got %v", itemID, err)
		}
	}

	// One sync and one (failed) listing total; the second lookup must not
	// re-run either subprocess.
	words := runner.commandWords(t)
	if len(words) != 2 || words[0] != "sync" || words[1] != "list" {
		t.Fatalf("broken listing should not be retried per entry: %v", words)
	}
}

func TestMissingBinary(t *testing.T) {
	runner := &stubRunner{}
	c := newTestClient(runner)
	c.lookPath = func(string) (string, error) { return "", fmt.Errorf("not found") }
	t.Setenv("BW_SESSION", "sess-1")

	_, err := c.FetchSecret(context.Background(), "item-a")
	if !errors.Is(err, domain.ErrVaultAuth) {
		t.Fatalf("expected ErrVaultAuth, got %v", err)
	}
	if !strings.Contains(err.Error(), "not installed") {
		t.Fatalf("error should say bw is missing: %v", err)
	}
}

func TestCommandWordSkipsFlags(t *testing.T) {
	if got := commandWord([]string{"--raw", "unlock"}); got != "unlock" {
		t.Fatalf("unexpected command word: %q", got)
	}
	if got := commandWord([]string{"list", "items", "--session", "tok"}); got != "list" {
		t.Fatalf("unexpected command word: %q", got)
	}
}
