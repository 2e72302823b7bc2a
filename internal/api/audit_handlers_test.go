package api

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestAuditExport_RecordsOperatorWrites(t *testing.T) {
	s := newServer(t)

	if w := s.do(t, http.MethodPost, "/scopes/US/boosts", `{"product_id":"p-cold","plan":"emerald"}`); w.Code != http.StatusCreated {
		t.Fatalf("boost status = %d", w.Code)
	}
	s.clock.Add(time.Minute)
	if w := s.do(t, http.MethodDelete, "/scopes/US/boosts/p-cold", ""); w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", w.Code)
	}

	w := s.do(t, http.MethodGet, "/scopes/us/audit", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var entries []struct {
		Action    string `json:"action"`
		ProductID string `json:"product_id"`
		Outcome   string `json:"outcome"`
		Revision  int64  `json:"revision"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %s", len(entries), w.Body.String())
	}
	if entries[0].Action != "boost_cancel" || entries[1].Action != "boost" || entries[1].Revision != 1 {
		t.Errorf("entries = %+v, want newest first", entries)
	}

	w = s.do(t, http.MethodGet, "/scopes/US/audit?format=csv&limit=1", "")
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/csv") {
		t.Errorf("Content-Type = %q, want text/csv", got)
	}
	rows, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(rows) != 2 || rows[1][3] != "boost_cancel" {
		t.Errorf("CSV rows = %v", rows)
	}

	w = s.do(t, http.MethodGet, "/scopes/US/audit?to="+testNow.Add(30*time.Second).Format(time.RFC3339), "")
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != "boost" {
		t.Errorf("entries before %v = %+v, want [boost]", testNow.Add(30*time.Second), entries)
	}
}

func TestAuditExport_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"bad scope", "/scopes/usa/audit", http.StatusBadRequest, ErrCodeInvalidScope},
		{"bad format", "/scopes/US/audit?format=xml", http.StatusBadRequest, ErrCodeBadRequest},
		{"bad limit", "/scopes/US/audit?limit=0", http.StatusBadRequest, ErrCodeInvalidLimit},
		{"bad from", "/scopes/US/audit?from=yesterday", http.StatusBadRequest, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t)
			expectError(t, s.do(t, http.MethodGet, tt.path, ""), tt.status, tt.code)
		})
	}
}

func TestAuditVerify(t *testing.T) {
	s := newServer(t)
	for _, id := range []string{"p-hot", "p-warm"} {
		if w := s.do(t, http.MethodDelete, "/scopes/US/manual/"+id, ""); w.Code != http.StatusOK {
			t.Fatalf("disable status = %d", w.Code)
		}
	}

	w := s.do(t, http.MethodGet, "/audit/verify", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp VerifyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Intact || resp.Entries != 2 || resp.BrokenAt != "" {
		t.Errorf("verify = %+v, want intact chain of 2", resp)
	}
}
