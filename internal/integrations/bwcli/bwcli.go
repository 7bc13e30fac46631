// Package bwcli wraps the Bitwarden command line tool. The vault's crypto,
// storage and unlock policy all live in `bw`; this package only shells out
// and parses its output.
package bwcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"agent-keys/internal/domain"
)

// SessionCache persists the session token between runs.
type SessionCache interface {
	LoadSession() (string, error)
	SaveSession(token string) error
	ClearSession() error
}

type runFunc func(ctx context.Context, interactive bool, args ...string) ([]byte, error)

type Client struct {
	FolderID string
	Email    string

	// AllowInteractive permits `bw login`/`bw unlock` to prompt on the
	// terminal. Automated environments keep this off and must supply a
	// pre-authenticated session via BW_SESSION or the cache.
	AllowInteractive bool
	SyncVault        bool
	Cache            SessionCache

	Debug    bool
	DebugOut io.Writer

	run      runFunc
	lookPath func(string) (string, error)

	session string
	items   map[string]folderItem
	loaded  bool
	loadErr error
}

type folderItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Login struct {
		Password *string `json:"password"`
	} `json:"login"`
}

func New(cfg domain.Config) *Client {
	return &Client{
		FolderID:  cfg.FolderID,
		Email:     cfg.Email,
		SyncVault: cfg.SyncVault,
		DebugOut:  os.Stderr,
		run:       bwRun,
		lookPath:  exec.LookPath,
	}
}

// FetchSecret returns the passphrase stored in the given vault item. The
// folder listing is fetched once on first use and reused for every later
// lookup, like the session itself.
func (c *Client) FetchSecret(ctx context.Context, itemID string) (string, error) {
	if err := c.ensureItems(ctx); err != nil {
		return "", err
	}
	item, ok := c.items[itemID]
	if !ok {
		return "", fmt.Errorf("%w: item %s is not in folder %s", domain.ErrVaultItemNotFound, itemID, c.FolderID)
	}
	if item.Login.Password == nil || strings.TrimSpace(*item.Login.Password) == "" {
		return "", fmt.Errorf("%w: item %s (%s) has no passphrase", domain.ErrVaultItemNotFound, itemID, item.Name)
	}
	return strings.TrimSpace(*item.Login.Password), nil
}

// Lock locks the vault and drops any cached session token.
func (c *Client) Lock(ctx context.Context) error {
	args := []string{"lock"}
	if sess := c.knownSession(); sess != "" {
		args = append(args, "--session", sess)
	}
	_, runErr := c.run(ctx, false, args...)
	if runErr != nil {
		runErr = fmt.Errorf("%w: lock: %v", domain.ErrVaultAuth, runErr)
	}
	c.session = ""
	if c.Cache != nil {
		if err := c.Cache.ClearSession(); err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// SessionAvailable reports whether a session token can be obtained without
// prompting. Used by the status command only; the token is not validated.
func (c *Client) SessionAvailable() bool {
	return c.knownSession() != ""
}

// ensureItems fetches the folder listing once and remembers the outcome.
// A failed listing is cached too, so one broken folder does not re-run
// sync + list for every remaining mapping entry.
func (c *Client) ensureItems(ctx context.Context) error {
	if c.loaded {
		return c.loadErr
	}
	c.loaded = true
	c.loadErr = c.loadItems(ctx)
	return c.loadErr
}

func (c *Client) loadItems(ctx context.Context) error {
	if _, err := c.lookPath("bw"); err != nil {
		return fmt.Errorf("%w: bitwarden cli (bw) is not installed", domain.ErrVaultAuth)
	}
	sess, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}
	if c.SyncVault {
		if _, err := c.run(ctx, false, "sync", "--session", sess); err != nil {
			// A stale listing is still usable, e.g. when offline.
			c.debugf("vault sync failed: %v", err)
		}
	}
	out, err := c.run(ctx, false, "list", "items", "--folderid", c.FolderID, "--session", sess)
	if err != nil {
		return fmt.Errorf("%w: list folder %s: %v", domain.ErrVaultAuth, c.FolderID, err)
	}
	var items []folderItem
	if err := json.Unmarshal(out, &items); err != nil {
		return fmt.Errorf("%w: parse folder listing: %v", domain.ErrVaultAuth, err)
	}
	c.items = make(map[string]folderItem, len(items))
	for _, item := range items {
		c.items[item.ID] = item
	}
	c.debugf("folder %s holds %d item(s)", c.FolderID, len(items))
	return nil
}

func (c *Client) ensureSession(ctx context.Context) (string, error) {
	if c.session != "" {
		return c.session, nil
	}
	if env := strings.TrimSpace(os.Getenv("BW_SESSION")); env != "" {
		c.debugf("using session from BW_SESSION")
		c.session = env
		return env, nil
	}
	if c.Cache != nil {
		if token, err := c.Cache.LoadSession(); err == nil && token != "" {
			if c.sessionValid(ctx, token) {
				c.debugf("using cached session from keyring")
				c.session = token
				return token, nil
			}
			c.debugf("cached session is no longer valid, discarding")
			_ = c.Cache.ClearSession()
		}
	}
	if !c.AllowInteractive {
		return "", fmt.Errorf("%w: no usable session and interactive unlock is disabled (set BW_SESSION)", domain.ErrVaultAuth)
	}

	operation := "unlock"
	if !c.loggedIn(ctx) {
		operation = "login"
	}
	c.debugf("vault requires %s", operation)
	out, err := c.run(ctx, true, "--raw", operation)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrVaultAuth, operation, err)
	}
	token := strings.TrimSpace(string(out))
	if token == "" {
		return "", fmt.Errorf("%w: %s produced no session token", domain.ErrVaultAuth, operation)
	}
	c.session = token
	if c.Cache != nil {
		if err := c.Cache.SaveSession(token); err != nil {
			c.debugf("could not cache session: %v", err)
		}
	}
	return token, nil
}

func (c *Client) loggedIn(ctx context.Context) bool {
	args := []string{"login", "--check", "--quiet"}
	if strings.TrimSpace(c.Email) != "" {
		args = append(args, c.Email)
	}
	_, err := c.run(ctx, false, args...)
	return err == nil
}

func (c *Client) sessionValid(ctx context.Context, token string) bool {
	_, err := c.run(ctx, false, "unlock", "--check", "--quiet", "--session", token)
	return err == nil
}

func (c *Client) knownSession() string {
	if c.session != "" {
		return c.session
	}
	if env := strings.TrimSpace(os.Getenv("BW_SESSION")); env != "" {
		return env
	}
	if c.Cache != nil {
		if token, err := c.Cache.LoadSession(); err == nil {
			return token
		}
	}
	return ""
}

func (c *Client) debugf(format string, args ...any) {
	if !c.Debug || c.DebugOut == nil {
		return
	}
	fmt.Fprintf(c.DebugOut, "debug: bw: "+format+"\n", args...)
}

// bwRun invokes `bw`. Interactive calls keep the terminal attached so bw can
// prompt for the master password itself; stdout is always captured because
// that is where bw writes session tokens and listings. NODE_OPTIONS silences
// the punycode deprecation warning the bundled node runtime emits.
func bwRun(ctx context.Context, interactive bool, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "bw", args...)
	cmd.Env = append(os.Environ(), "NODE_OPTIONS=--no-deprecation")
	if interactive {
		cmd.Stdin = os.Stdin
		cmd.Stderr = os.Stderr
	}
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("bw %s: %v (%s)", commandWord(args), err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, fmt.Errorf("bw %s: %v", commandWord(args), err)
	}
	return out, nil
}

// commandWord names the bw subcommand for error messages without leaking
// argument values such as session tokens.
func commandWord(args []string) string {
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			return arg
		}
	}
	return ""
}
