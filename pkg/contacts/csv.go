package contacts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AzielCF/az-dispatch/messaging/domain/job"
)

// ErrNoRecipients is returned when a file holds no usable rows.
var ErrNoRecipients = errors.New("contact list has no recipients")

// ParseCSV reads a "number,name" contact list. The first row is a header.
// Rows without a number are skipped; duplicate numbers keep the first entry.
// Numbers are reduced to their digits.
func ParseCSV(r io.Reader) ([]job.Recipient, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		recipients []job.Recipient
		seen       = make(map[string]struct{})
		line       int
	)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("contacts line %d: %w", line, err)
		}
		if line == 1 {
			continue
		}
		if len(record) == 0 {
			continue
		}

		number := NormalizeNumber(record[0])
		if number == "" {
			continue
		}
		if _, dup := seen[number]; dup {
			continue
		}
		seen[number] = struct{}{}

		name := ""
		if len(record) > 1 {
			name = strings.TrimSpace(record[1])
		}
		recipients = append(recipients, job.Recipient{Address: number, DisplayName: name})
	}

	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	return recipients, nil
}

// NormalizeNumber strips everything but digits: "+55 (11) 9999-0000" -> "551199990000".
func NormalizeNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
