package application

import (
	"context"
	"flag"
	"fmt"
	"os"

	"golang.org/x/term"

	"agent-keys/internal/config"
	"agent-keys/internal/domain"
	"agent-keys/internal/integrations/bwcli"
	"agent-keys/internal/integrations/keyringstore"
	"agent-keys/internal/integrations/sshagent"
	"agent-keys/internal/integrations/system"
)

type commonFlags struct {
	configPath     string
	debug          bool
	nonInteractive bool
}

func registerCommonFlags(flags *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	flags.StringVar(&c.configPath, "config", "", "path to agentkeys.yaml (default: search user config dir and .)")
	flags.BoolVar(&c.debug, "debug", false, "show debug output")
	flags.BoolVar(&c.nonInteractive, "non-interactive", false, "never prompt; require a pre-authenticated vault session")
	return c
}

func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func newVaultClient(cfg domain.Config, common *commonFlags) *bwcli.Client {
	client := bwcli.New(cfg)
	client.AllowInteractive = !common.nonInteractive && isInteractiveTerminal()
	client.Debug = common.debug
	if cfg.CacheSession {
		client.Cache = keyringstore.New()
	}
	return client
}

func newRegistrar(cfg domain.Config) domain.KeyRegistrar {
	if cfg.AgentBackend == domain.BackendNative {
		return &sshagent.NativeAgent{Lifetime: cfg.KeyLifetime}
	}
	return &sshagent.AddCommand{Lifetime: cfg.KeyLifetime}
}

// RunAddCommand is the main flow: load config and mapping, then feed every
// mapped key into the agent. Configuration and mapping problems abort
// before any vault or agent call; per-entry failures only count.
func RunAddCommand(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("add", flag.ContinueOnError)
	common := registerCommonFlags(flags)
	var dryRun bool
	flags.BoolVar(&dryRun, "dry-run", false, "resolve passphrases but do not touch the agent")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(common.configPath)
	if err != nil {
		return err
	}
	entries, err := domain.LoadMapping(cfg.MappingFile, os.Stderr)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No mapped keys to add.")
		return nil
	}

	client := newVaultClient(cfg, common)
	feeder := &Feeder{
		Source:    client,
		Registrar: newRegistrar(cfg),
		Out:       os.Stdout,
		Warn:      os.Stderr,
		DryRun:    dryRun,
	}
	summary := feeder.Run(ctx, entries)

	if cfg.LockOnExit && !dryRun {
		if err := client.Lock(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not lock vault: %v\n", err)
		}
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d entry(ies) failed", summary.Failed, summary.Added+summary.Failed)
	}
	return nil
}

// RunLockCommand locks the vault and clears the cached session token.
func RunLockCommand(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("lock", flag.ContinueOnError)
	common := registerCommonFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(common.configPath)
	if err != nil {
		return err
	}
	client := newVaultClient(cfg, common)
	if client.Cache == nil {
		// Locking should always drop a stale token, even when caching
		// is off for new sessions.
		client.Cache = keyringstore.New()
	}
	if err := client.Lock(ctx); err != nil {
		return err
	}
	fmt.Println("Vault locked.")
	return nil
}

// RunStatusCommand reports the run preconditions without touching the
// vault: config origin, mapping size, external tools, session and agent.
func RunStatusCommand(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("status", flag.ContinueOnError)
	common := registerCommonFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(common.configPath)
	if err != nil {
		return err
	}

	fmt.Printf("Folder id:      %s\n", cfg.FolderID)
	fmt.Printf("Mapping file:   %s (exists: %s)\n", cfg.MappingFile, domain.YesNo(domain.FileExists(cfg.MappingFile)))
	if entries, err := domain.LoadMapping(cfg.MappingFile, os.Stderr); err == nil {
		fmt.Printf("Mapped keys:    %d\n", len(entries))
		for _, entry := range entries {
			fmt.Printf("- %s -> %s (key exists: %s)\n", entry.ItemID, entry.KeyPath, domain.YesNo(domain.FileExists(entry.KeyPath)))
		}
	}
	fmt.Printf("Agent backend:  %s\n", cfg.AgentBackend)

	bwInstalled := system.HasCommand("bw")
	fmt.Printf("bw installed:   %s\n", domain.YesNo(bwInstalled))
	if !bwInstalled {
		if installCmd, ok := system.SuggestedBitwardenInstallCommand(); ok {
			fmt.Printf("Suggested install command: %s\n", installCmd)
		}
	}
	fmt.Printf("ssh-add found:  %s\n", domain.YesNo(system.HasCommand("ssh-add")))

	client := newVaultClient(cfg, common)
	fmt.Printf("Session source: %s\n", domain.YesNo(client.SessionAvailable()))

	if count, err := sshagent.CountKeys(ctx); err == nil {
		fmt.Printf("Agent keys:     %d\n", count)
	} else {
		fmt.Printf("Agent keys:     unavailable (%v)\n", err)
	}
	return nil
}
