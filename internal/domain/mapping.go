package domain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadMapping reads the CSV mapping table at path. Malformed rows are
// reported on warn and skipped; only a file that cannot be opened is fatal.
func LoadMapping(path string, warn io.Writer) ([]MappingEntry, error) {
	f, err := os.Open(ExpandUser(path))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrMappingFile, path, err)
	}
	defer f.Close()
	return ReadMapping(f, warn)
}

// ReadMapping parses rows of the form "itemID,keyPath". Rows with the wrong
// column count or empty columns produce a warning and no entry. Duplicate
// item ids are kept; each row is processed independently.
func ReadMapping(r io.Reader, warn io.Writer) ([]MappingEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var entries []MappingEntry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line := 0
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				line = parseErr.Line
			}
			fmt.Fprintf(warn, "warning: mapping line %d: %v (skipped)\n", line, err)
			continue
		}
		// FieldPos reports the position in the file itself, so warnings
		// stay accurate when blank lines are skipped by the reader.
		line, _ := reader.FieldPos(0)
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) != 2 {
			fmt.Fprintf(warn, "warning: mapping line %d: expected 2 columns, got %d (skipped)\n", line, len(record))
			continue
		}
		itemID := strings.TrimSpace(record[0])
		keyPath := strings.TrimSpace(record[1])
		if itemID == "" || keyPath == "" {
			fmt.Fprintf(warn, "warning: mapping line %d: empty column (skipped)\n", line)
			continue
		}
		entries = append(entries, MappingEntry{ItemID: itemID, KeyPath: ExpandUser(keyPath)})
	}
	return entries, nil
}
