package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ExportFormat names a supported export encoding.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatJSON ExportFormat = "json"
)

// ErrUnsupportedFormat is returned for export formats other than csv and json.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ExportOptions selects entries to export.
type ExportOptions struct {
	Format ExportFormat
	Scope  string
	From   time.Time // inclusive, zero means unbounded
	To     time.Time // inclusive, zero means unbounded
	Limit  int       // applied after the time filter, 0 means no limit
}

// Export encodes the entries of a scope, newest first.
func Export(ctx context.Context, repo Repository, opts ExportOptions) ([]byte, error) {
	if opts.Format != ExportFormatCSV && opts.Format != ExportFormatJSON {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, opts.Format)
	}

	entries, err := repo.QueryByScope(ctx, opts.Scope, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	entries = filterByTimeRange(entries, opts.From, opts.To)
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	if opts.Format == ExportFormatCSV {
		return exportToCSV(entries)
	}
	return exportToJSON(entries)
}

func filterByTimeRange(entries []*Entry, from, to time.Time) []*Entry {
	if from.IsZero() && to.IsZero() {
		return entries
	}
	var filtered []*Entry
	for _, e := range entries {
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.CreatedAt.After(to) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func exportToCSV(entries []*Entry) ([]byte, error) {
	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)

	header := []string{
		"ID", "Timestamp (UTC)", "Operator", "Action", "Scope", "Product ID",
		"Outcome", "Revision", "Detail", "Request ID", "Previous Hash",
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			e.ID,
			e.CreatedAt.Format(time.RFC3339),
			e.OperatorID,
			e.Action,
			e.Scope,
			e.ProductID,
			e.Outcome,
			strconv.FormatInt(e.Revision, 10),
			e.Detail,
			e.RequestID,
			e.PreviousHash,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// exportEntry is the JSON form of an Entry.
type exportEntry struct {
	ID           string `json:"id"`
	Timestamp    string `json:"timestamp"`
	OperatorID   string `json:"operator_id"`
	Action       string `json:"action"`
	Scope        string `json:"scope"`
	ProductID    string `json:"product_id,omitempty"`
	Outcome      string `json:"outcome"`
	Revision     int64  `json:"revision"`
	Detail       string `json:"detail,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	PreviousHash string `json:"previous_hash,omitempty"`
}

func exportToJSON(entries []*Entry) ([]byte, error) {
	out := make([]exportEntry, len(entries))
	for i, e := range entries {
		out[i] = exportEntry{
			ID:           e.ID,
			Timestamp:    e.CreatedAt.Format(time.RFC3339),
			OperatorID:   e.OperatorID,
			Action:       e.Action,
			Scope:        e.Scope,
			ProductID:    e.ProductID,
			Outcome:      e.Outcome,
			Revision:     e.Revision,
			Detail:       e.Detail,
			RequestID:    e.RequestID,
			PreviousHash: e.PreviousHash,
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}
