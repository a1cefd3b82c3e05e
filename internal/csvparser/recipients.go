// Package csvparser turns an uploaded recipient CSV into broadcast input.
// The CSV needs a header row with an "email" column (case-insensitive);
// every other column becomes a template variable for that recipient.
package csvparser

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// Recipient is one parsed CSV row.
type Recipient struct {
	Address   string
	Variables map[string]string
}

// ParseRecipients reads at most maxRows data rows. Malformed rows, rows with
// an empty address and duplicate addresses are silently skipped; a broadcast
// should deliver to the usable remainder.
func ParseRecipients(r io.Reader, maxRows int) ([]Recipient, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	// Rows with the wrong field count are skipped below, not treated as a
	// parse failure.
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, errors.New("csv is empty or has no header row")
	}

	emailIdx := -1
	columns := make([]string, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		columns[i] = name
		if strings.EqualFold(name, "email") {
			emailIdx = i
		}
	}
	if emailIdx == -1 {
		return nil, errors.New("csv header must contain an email column")
	}

	if maxRows <= 0 {
		maxRows = 1000
	}

	seen := make(map[string]bool)
	recipients := make([]Recipient, 0)

	for len(recipients) < maxRows {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) != len(columns) {
			continue
		}

		address := strings.TrimSpace(row[emailIdx])
		key := strings.ToLower(address)
		if address == "" || seen[key] {
			continue
		}
		seen[key] = true

		variables := make(map[string]string, len(columns)-1)
		for i, value := range row {
			if i == emailIdx || columns[i] == "" {
				continue
			}
			variables[columns[i]] = strings.TrimSpace(value)
		}

		recipients = append(recipients, Recipient{Address: address, Variables: variables})
	}

	if len(recipients) == 0 {
		return nil, errors.New("csv contains no usable recipient rows")
	}
	return recipients, nil
}
