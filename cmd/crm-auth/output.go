package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alexjbarnes/crm-auth/internal/models"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
	outputJSON  = "json"
)

// tokenRow is the printable form of a credential. The digest is left out.
type tokenRow struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	CreatedAt  string `json:"created_at" yaml:"created_at"`
	LastUsedAt string `json:"last_used_at,omitempty" yaml:"last_used_at,omitempty"`
}

func tokenRows(list []models.Credential) []tokenRow {
	rows := make([]tokenRow, 0, len(list))
	for _, c := range list {
		row := tokenRow{
			ID:        c.ID,
			Name:      c.Label,
			CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		}
		if c.LastUsedAt != nil {
			row.LastUsedAt = c.LastUsedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, row)
	}

	return rows
}

func writeTokens(w io.Writer, format string, list []models.Credential) error {
	rows := tokenRows(list)

	switch format {
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(rows); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}

		return enc.Close()
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(rows)
	case outputTable, "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCREATED\tLAST USED")

		for _, r := range rows {
			last := r.LastUsedAt
			if last == "" {
				last = "never"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Name, r.CreatedAt, last)
		}

		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
