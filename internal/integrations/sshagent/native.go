package sshagent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"agent-keys/internal/domain"
)

// NativeAgent registers keys over the agent protocol on SSH_AUTH_SOCK
// instead of shelling out to ssh-add. The key is decrypted in-process and
// handed to the agent; the plaintext never touches disk.
type NativeAgent struct {
	Lifetime int
}

func (n *NativeAgent) RegisterKey(ctx context.Context, keyPath, passphrase string) error {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrKeyFileNotFound, keyPath)
	}

	key, err := parsePrivateKey(raw, passphrase)
	if err != nil {
		return fmt.Errorf("%w: decrypt %s: %v", domain.ErrAgentRegistration, keyPath, err)
	}

	client, closeConn, err := dialAgent(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAgentRegistration, err)
	}
	defer closeConn()

	added := agent.AddedKey{
		PrivateKey:   key,
		Comment:      keyPath,
		LifetimeSecs: uint32(n.Lifetime),
	}
	if err := client.Add(added); err != nil {
		return fmt.Errorf("%w: add %s: %v", domain.ErrAgentRegistration, keyPath, err)
	}
	return nil
}

// CountKeys reports how many keys the agent currently holds. Used by the
// status command.
func CountKeys(ctx context.Context) (int, error) {
	client, closeConn, err := dialAgent(ctx)
	if err != nil {
		return 0, err
	}
	defer closeConn()

	keys, err := client.List()
	if err != nil {
		return 0, fmt.Errorf("list agent keys: %w", err)
	}
	return len(keys), nil
}

func dialAgent(ctx context.Context) (agent.ExtendedAgent, func(), error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, nil, errors.New("SSH_AUTH_SOCK is not set, is ssh-agent running?")
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to ssh-agent: %w", err)
	}
	return agent.NewClient(conn), func() { _ = conn.Close() }, nil
}

func parsePrivateKey(raw []byte, passphrase string) (any, error) {
	key, err := ssh.ParseRawPrivateKeyWithPassphrase(raw, []byte(passphrase))
	if err == nil {
		return key, nil
	}
	// Unencrypted keys are still fair game; the vault entry then only
	// documents where the key lives.
	if key, plainErr := ssh.ParseRawPrivateKey(raw); plainErr == nil {
		return key, nil
	}
	return nil, err
}
