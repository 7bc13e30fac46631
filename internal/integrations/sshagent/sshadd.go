// Package sshagent feeds private keys into the running ssh-agent. Two
// registrars exist: AddCommand shells out to ssh-add, NativeAgent talks to
// the agent socket directly.
package sshagent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"agent-keys/internal/domain"
)

// AddCommand registers keys by running ssh-add with the passphrase served
// through a throwaway SSH_ASKPASS helper, so nothing secret appears on the
// command line or on stdin.
type AddCommand struct {
	// Lifetime in seconds after which the agent discards the key; 0 keeps
	// it until the agent exits.
	Lifetime int
}

func (a *AddCommand) RegisterKey(ctx context.Context, keyPath, passphrase string) error {
	if err := checkKeyFileReadable(keyPath); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrKeyFileNotFound, keyPath, err)
	}

	helper, cleanup, err := writeAskpassHelper(passphrase)
	if err != nil {
		return fmt.Errorf("%w: askpass helper: %v", domain.ErrAgentRegistration, err)
	}
	defer cleanup()

	cmd := exec.CommandContext(ctx, "ssh-add", addArgs(a.Lifetime, keyPath)...)
	cmd.Env = append(environWithout("SSH_ASKPASS", "SSH_ASKPASS_REQUIRE", "DISPLAY"),
		"SSH_ASKPASS="+helper,
		"SSH_ASKPASS_REQUIRE=force",
		"DISPLAY=none:0",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: ssh-add %s: %v (%s)", domain.ErrAgentRegistration, keyPath, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// checkKeyFileReadable verifies the key path is an existing, readable
// regular file. A path that exists but cannot be opened (or is a directory)
// is as useless to ssh-add as a missing one and classifies the same way.
func checkKeyFileReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func addArgs(lifetime int, keyPath string) []string {
	var args []string
	if lifetime > 0 {
		args = append(args, "-t", strconv.Itoa(lifetime))
	}
	return append(args, keyPath)
}

// writeAskpassHelper drops a 0700 shell script in a private temp directory
// that prints the passphrase once. The caller removes it right after the
// ssh-add call returns.
func writeAskpassHelper(passphrase string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "agentkeys-askpass-")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	path := filepath.Join(dir, "askpass.sh")
	script := "#!/bin/sh\nprintf '%s\\n' '" + escapeSingleQuotes(passphrase) + "'\n"
	if err := os.WriteFile(path, []byte(script), 0o700); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

func escapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

func environWithout(names ...string) []string {
	drop := make(map[string]struct{}, len(names))
	for _, name := range names {
		drop[name] = struct{}{}
	}
	env := os.Environ()
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if _, skip := drop[name]; skip {
			continue
		}
		out = append(out, kv)
	}
	return out
}
