package application

import (
	"context"
	"fmt"
	"io"

	"agent-keys/internal/domain"
)

// Feeder walks the mapping entries in file order, looks up each passphrase
// and hands it to the registrar. Entries fail independently; nothing is
// retried or rolled back. Secrets live only inside one processEntry call.
type Feeder struct {
	Source    domain.SecretSource
	Registrar domain.KeyRegistrar
	Out       io.Writer
	Warn      io.Writer
	DryRun    bool
}

// Run processes all entries and returns the aggregated summary. An expired
// context stops the walk; entries not yet attempted count as failed so the
// exit status reflects the aborted run.
func (f *Feeder) Run(ctx context.Context, entries []domain.MappingEntry) domain.RunSummary {
	var summary domain.RunSummary
	for i, entry := range entries {
		if ctx.Err() != nil {
			fmt.Fprintf(f.Warn, "aborted, %d entry(ies) not attempted\n", len(entries)-i)
			summary.Failed += len(entries) - i
			break
		}

		result := f.processEntry(ctx, entry)
		summary = summary.Record(result)
		if result.Kind == domain.Succeeded {
			if f.DryRun {
				fmt.Fprintf(f.Out, "would add %s (item %s)\n", entry.KeyPath, entry.ItemID)
			} else {
				fmt.Fprintf(f.Out, "added %s (item %s)\n", entry.KeyPath, entry.ItemID)
			}
			continue
		}
		fmt.Fprintf(f.Warn, "failed %s (item %s): %v\n", entry.KeyPath, entry.ItemID, result.Err)
	}

	fmt.Fprintf(f.Out, "%d added, %d failed\n", summary.Added, summary.Failed)
	return summary
}

func (f *Feeder) processEntry(ctx context.Context, entry domain.MappingEntry) domain.RegistrationResult {
	secret, err := f.Source.FetchSecret(ctx, entry.ItemID)
	if err != nil {
		return domain.RegistrationResult{Entry: entry, Kind: domain.ClassifyEntryError(err), Err: err}
	}

	if f.DryRun {
		if !domain.FileExists(entry.KeyPath) {
			err := fmt.Errorf("%w: %s", domain.ErrKeyFileNotFound, entry.KeyPath)
			return domain.RegistrationResult{Entry: entry, Kind: domain.KeyFileNotFound, Err: err}
		}
		return domain.RegistrationResult{Entry: entry, Kind: domain.Succeeded}
	}

	if err := f.Registrar.RegisterKey(ctx, entry.KeyPath, secret); err != nil {
		return domain.RegistrationResult{Entry: entry, Kind: domain.ClassifyEntryError(err), Err: err}
	}
	return domain.RegistrationResult{Entry: entry, Kind: domain.Succeeded}
}
