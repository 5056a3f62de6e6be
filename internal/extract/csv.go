package extract

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// extractCSV renders a CSV file as readable text: a column list followed by
// one "header: value | ..." line per row, so the chunker and keyword index
// see the column names next to every value.
func extractCSV(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate ragged rows
	records, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parsing csv: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}

	headers := records[0]
	lines := []string{"Columns: " + strings.Join(headers, ", ") + "\n"}
	for _, row := range records[1:] {
		parts := make([]string, 0, len(headers))
		for i, h := range headers {
			val := ""
			if i < len(row) {
				val = row[i]
			}
			parts = append(parts, h+": "+val)
		}
		lines = append(lines, strings.Join(parts, " | "))
	}
	return strings.Join(lines, "\n"), nil
}
