package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func seedExport(t *testing.T) *InMemoryRepository {
	t.Helper()
	ctx := context.Background()
	repo, mock := newTestRepo()
	for i, id := range []string{"p1", "p2", "p3"} {
		if i > 0 {
			mock.Add(time.Hour)
		}
		if _, err := repo.Append(ctx, LogEntry{OperatorID: "op-9", Action: ActionBoost, Scope: "US", ProductID: id, Outcome: OutcomeSuccess, Revision: int64(i + 1)}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := repo.Append(ctx, LogEntry{Action: ActionManualBatch, Scope: "DE", Outcome: OutcomeSuccess}); err != nil {
		t.Fatal(err)
	}
	return repo
}

func TestExport_JSON(t *testing.T) {
	repo := seedExport(t)

	data, err := Export(context.Background(), repo, ExportOptions{Format: ExportFormatJSON, Scope: "US", Limit: 2})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	var got []exportEntry
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 2 || got[0].ProductID != "p3" || got[1].ProductID != "p2" {
		t.Fatalf("Export() = %+v, want [p3 p2]", got)
	}
	if got[0].OperatorID != "op-9" || got[0].Revision != 3 || got[0].PreviousHash == "" {
		t.Errorf("entry = %+v", got[0])
	}
}

func TestExport_CSVWithTimeRange(t *testing.T) {
	repo := seedExport(t)

	data, err := Export(context.Background(), repo, ExportOptions{
		Format: ExportFormatCSV,
		Scope:  "US",
		From:   testNow.Add(30 * time.Minute),
		To:     testNow.Add(90 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("CSV has %d rows, want header plus 1", len(rows))
	}
	if rows[0][0] != "ID" || rows[1][5] != "p2" {
		t.Errorf("CSV rows = %v", rows)
	}
}

func TestExport_UnsupportedFormat(t *testing.T) {
	_, err := Export(context.Background(), NewInMemoryRepository(nil), ExportOptions{Format: "xml", Scope: "US"})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Export(xml) error = %v, want ErrUnsupportedFormat", err)
	}
}
