// agentkeys reads SSH key passphrases from a Bitwarden folder and feeds
// them into the running ssh-agent, driven by a CSV that maps vault item
// ids to private key paths.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"agent-keys/internal/application"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command, args := splitCommand(os.Args[1:])

	var err error
	switch command {
	case "add":
		err = application.RunAddCommand(ctx, args)
	case "status":
		err = application.RunStatusCommand(ctx, args)
	case "lock":
		err = application.RunLockCommand(ctx, args)
	case "help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command: %s", command)
	}

	if err != nil {
		exitWithError(err)
	}
}

// splitCommand separates the subcommand from its flags. A bare invocation
// (or one that starts with a flag) runs "add", the main flow.
func splitCommand(args []string) (string, []string) {
	if len(args) == 0 {
		return "add", nil
	}
	first := args[0]
	if first == "-h" || first == "--help" {
		return "help", nil
	}
	if strings.HasPrefix(first, "-") {
		return "add", args
	}
	return first, args[1:]
}

func printUsage() {
	name := cliName()
	fmt.Printf("%s - feed Bitwarden-stored passphrases into ssh-agent\n", name)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [add] [--config <path>] [--debug] [--non-interactive] [--dry-run]\n", name)
	fmt.Printf("  %s status [--config <path>]\n", name)
	fmt.Printf("  %s lock [--config <path>]\n", name)
	fmt.Printf("  %s help\n", name)
}

func cliName() string {
	if len(os.Args) == 0 {
		return "agentkeys"
	}
	name := strings.TrimSpace(filepath.Base(os.Args[0]))
	if name == "" {
		return "agentkeys"
	}
	return name
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
