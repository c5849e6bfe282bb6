// Package recipients imports recipient lists from spreadsheets.
package recipients

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"wadispatch/internal/dispatch"

	"github.com/xuri/excelize/v2"
)

var ErrNoHeader = errors.New("recipients: name and phone columns not found")

// Column aliases, matched case-insensitively after trimming.
var columnAliases = map[string][]string{
	"name":   {"nome", "name", "colaborador"},
	"phone":  {"telefone", "phone", "celular", "whatsapp"},
	"sector": {"setor", "sector", "departamento"},
	"site":   {"obra", "site", "local"},
}

// LoadXLSX reads the first sheet of the workbook at path.
func LoadXLSX(path string) ([]dispatch.Recipient, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("recipients: %w", err)
	}
	return ReadXLSX(bytes.NewReader(b))
}

// ReadXLSX parses a workbook. The first row holding both a name and a phone
// column is the header; rows without a name are skipped. Phone cells are
// returned raw (normalization happens at send time).
func ReadXLSX(r io.Reader) ([]dispatch.Recipient, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("recipients: open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("recipients: workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("recipients: read sheet %q: %w", sheets[0], err)
	}

	headerIdx := -1
	var cols map[string]int
	for i, row := range rows {
		m := buildColumnMap(row)
		if _, ok := m["name"]; !ok {
			continue
		}
		if _, ok := m["phone"]; !ok {
			continue
		}
		headerIdx, cols = i, m
		break
	}
	if headerIdx < 0 {
		return nil, ErrNoHeader
	}

	var out []dispatch.Recipient
	for _, row := range rows[headerIdx+1:] {
		name := cell(row, cols, "name")
		if name == "" {
			continue
		}
		out = append(out, dispatch.Recipient{
			Name:   name,
			Phone:  cell(row, cols, "phone"),
			Sector: cell(row, cols, "sector"),
			Site:   cell(row, cols, "site"),
		})
	}
	return out, nil
}

func buildColumnMap(header []string) map[string]int {
	m := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for field, aliases := range columnAliases {
			if _, seen := m[field]; seen {
				continue
			}
			for _, a := range aliases {
				if h == a {
					m[field] = i
				}
			}
		}
	}
	return m
}

func cell(row []string, cols map[string]int, field string) string {
	i, ok := cols[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
