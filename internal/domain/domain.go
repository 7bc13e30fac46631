package domain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Fatal errors abort the run before any vault or agent interaction happens.
var (
	ErrConfig      = errors.New("configuration error")
	ErrMappingFile = errors.New("mapping file error")
)

// Per-entry errors are reported and counted; the run continues with the
// next mapping entry.
var (
	ErrVaultAuth         = errors.New("vault session unavailable")
	ErrVaultItemNotFound = errors.New("vault item not found")
	ErrKeyFileNotFound   = errors.New("key file not found")
	ErrAgentRegistration = errors.New("agent registration failed")
)

// Config holds the settings read once at startup. It is immutable for the
// lifetime of the process and passed explicitly to every component that
// needs it.
type Config struct {
	FolderID     string `mapstructure:"folder_id"`
	MappingFile  string `mapstructure:"mapping_file"`
	Email        string `mapstructure:"email"`
	AgentBackend string `mapstructure:"agent_backend"`
	KeyLifetime  int    `mapstructure:"key_lifetime"`
	SyncVault    bool   `mapstructure:"sync_vault"`
	LockOnExit   bool   `mapstructure:"lock_on_exit"`
	CacheSession bool   `mapstructure:"cache_session"`
}

const (
	BackendSSHAdd = "ssh-add"
	BackendNative = "native"
)

// MappingEntry links one vault item to the private key its passphrase
// unlocks. Entries are processed in mapping-file order.
type MappingEntry struct {
	ItemID  string
	KeyPath string
}

// SecretSource fetches the passphrase stored in one vault item.
type SecretSource interface {
	FetchSecret(ctx context.Context, itemID string) (string, error)
}

// KeyRegistrar adds one private key to the running ssh-agent, supplying
// the passphrase non-interactively.
type KeyRegistrar interface {
	RegisterKey(ctx context.Context, keyPath, passphrase string) error
}

type ResultKind int

const (
	Succeeded ResultKind = iota
	VaultLookupFailed
	KeyFileNotFound
	AgentRegistrationFailed
)

func (k ResultKind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case VaultLookupFailed:
		return "vault lookup failed"
	case KeyFileNotFound:
		return "key file not found"
	case AgentRegistrationFailed:
		return "agent registration failed"
	}
	return "unknown"
}

// RegistrationResult is the outcome of one mapping entry.
type RegistrationResult struct {
	Entry MappingEntry
	Kind  ResultKind
	Err   error
}

// RunSummary aggregates per-entry outcomes for the final report.
type RunSummary struct {
	Added  int
	Failed int
}

func (s RunSummary) Record(r RegistrationResult) RunSummary {
	if r.Kind == Succeeded {
		s.Added++
	} else {
		s.Failed++
	}
	return s
}

// ClassifyEntryError maps a per-entry error onto its result kind. Both auth
// failures and unknown items count as vault lookup failures.
func ClassifyEntryError(err error) ResultKind {
	switch {
	case err == nil:
		return Succeeded
	case errors.Is(err, ErrKeyFileNotFound):
		return KeyFileNotFound
	case errors.Is(err, ErrVaultAuth), errors.Is(err, ErrVaultItemNotFound):
		return VaultLookupFailed
	default:
		return AgentRegistrationFailed
	}
}

func FileExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func YesNo(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

// ExpandUser replaces a leading "~" with the current user's home directory,
// matching what the mapping file author would expect from a shell.
func ExpandUser(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
