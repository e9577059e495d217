package scraper

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

const caseStatusFixture = `<!DOCTYPE html>
<html>
<head><title>Case Status</title></head>
<body>
<h2 class="case-title">Ramesh Kumar vs State of Maharashtra</h2>
<table class="case_details_table">
<tr><td>Case Type</td><td>WP - WRIT PETITION</td></tr>
<tr><td>Filing Number</td><td>1234/2023</td></tr>
<tr><td>Registration Number</td><td>WP/804/2023</td></tr>
<tr><td>CNR Number</td><td>MHHC010012342023</td></tr>
</table>
<table class="case_status_table">
<tr><td>First Hearing Date</td><td>15-02-2023</td></tr>
<tr><td>Next Hearing Date</td><td>10-03-2025</td></tr>
<tr><td>Case Status</td><td>Pending</td></tr>
<tr><td>Stage of Case</td><td>Admission</td></tr>
<tr><td>Coram</td><td>Hon'ble Justice A. B. Sharma</td></tr>
<tr><td>Bench</td><td>Division Bench</td></tr>
</table>
<table class="IA_table">
<tr><th>IA Number</th><th>Party</th><th>Date of Filing</th><th>IA Status</th></tr>
<tr><td>IA/1/2023</td><td>Petitioner</td><td>20-03-2023</td><td>Pending</td></tr>
<tr><td>IA/2/2024</td><td>Respondent</td><td>05-01-2024</td><td>Disposed</td></tr>
</table>
<table class="history_table">
<tr><th>Cause List Type</th><th>Judge</th><th>Bench</th><th>Hearing Date</th><th>Purpose</th></tr>
<tr><td>Daily List</td><td>A. B. Sharma</td><td>DB-2</td><td>15-02-2023</td><td>Notice issued</td></tr>
<tr><td>Daily List</td><td>A. B. Sharma</td><td>DB-2</td><td>12-08-2024</td><td>Adjourned</td></tr>
</table>
</body>
</html>`

func TestParseCaseStatusPage(t *testing.T) {
	snap, err := Parse(strings.NewReader(caseStatusFixture), "MHHC010012342023")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if snap.Cino != "MHHC010012342023" {
		t.Errorf("Cino = %q", snap.Cino)
	}
	if snap.CaseTitle != "Ramesh Kumar vs State of Maharashtra" {
		t.Errorf("CaseTitle = %q", snap.CaseTitle)
	}
	if snap.CaseType != "WP - WRIT PETITION" {
		t.Errorf("CaseType = %q", snap.CaseType)
	}
	if snap.Status != "Pending" {
		t.Errorf("Status = %q, want Pending", snap.Status)
	}
	if snap.StageOfCase != "Admission" {
		t.Errorf("StageOfCase = %q", snap.StageOfCase)
	}
	if snap.Coram != "Hon'ble Justice A. B. Sharma" {
		t.Errorf("Coram = %q", snap.Coram)
	}
	if snap.Bench != "Division Bench" {
		t.Errorf("Bench = %q", snap.Bench)
	}

	if snap.NextHearingDate == nil {
		t.Fatal("NextHearingDate not parsed")
	}
	if got := snap.NextHearingDate.Format("2006-01-02"); got != "2025-03-10" {
		t.Errorf("NextHearingDate = %s, want 2025-03-10", got)
	}
	if snap.FirstHearingDate == nil || snap.FirstHearingDate.Format("2006-01-02") != "2023-02-15" {
		t.Errorf("FirstHearingDate = %v", snap.FirstHearingDate)
	}

	if len(snap.InterimApplications) != 2 {
		t.Fatalf("got %d interim applications, want 2", len(snap.InterimApplications))
	}
	ia := snap.InterimApplications[0]
	if ia.Number != "IA/1/2023" || ia.Party != "Petitioner" || ia.Status != "Pending" {
		t.Errorf("first IA = %+v", ia)
	}
	if ia.FiledOn == nil || ia.FiledOn.Format("2006-01-02") != "2023-03-20" {
		t.Errorf("first IA FiledOn = %v", ia.FiledOn)
	}

	if len(snap.ListingHistory) != 2 {
		t.Fatalf("got %d listing entries, want 2", len(snap.ListingHistory))
	}
	event := snap.ListingHistory[1]
	if event.CauseListType != "Daily List" || event.Judge != "A. B. Sharma" || event.BenchID != "DB-2" {
		t.Errorf("listing entry = %+v", event)
	}
	if event.ShortOrder != "Adjourned" {
		t.Errorf("ShortOrder = %q", event.ShortOrder)
	}
}

func TestParseNotFoundMarker(t *testing.T) {
	page := `<html><body><p>This Case Code does not exists</p></body></html>`
	if _, err := Parse(strings.NewReader(page), "804692"); !errors.Is(err, ErrCaseNotFound) {
		t.Errorf("Parse() error = %v, want ErrCaseNotFound", err)
	}
}

func TestParseEmptyPage(t *testing.T) {
	page := `<html><body><p>maintenance window</p></body></html>`
	if _, err := Parse(strings.NewReader(page), "804692"); err == nil {
		t.Error("Parse() should fail on a page with no case data")
	}
}

func TestParseDateFormats(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"10-03-2025", "2025-03-10"},
		{"10/03/2025", "2025-03-10"},
		{"2025-03-10", "2025-03-10"},
		{"10 Mar 2025", "2025-03-10"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseDate(tt.input)
			if got == nil {
				t.Fatalf("parseDate(%q) = nil", tt.input)
			}
			if got.Format("2006-01-02") != tt.want {
				t.Errorf("parseDate(%q) = %s, want %s", tt.input, got.Format("2006-01-02"), tt.want)
			}
		})
	}

	for _, empty := range []string{"", "  ", "NA", "n/a", "garbage"} {
		if got := parseDate(empty); got != nil {
			t.Errorf("parseDate(%q) = %v, want nil", empty, got)
		}
	}
}

func TestFetchCase(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("cino"); got != "MHHC010012342023" {
			t.Errorf("cino query = %q", got)
		}
		_, _ = w.Write([]byte(caseStatusFixture))
	}))
	defer ts.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s := New(&http.Client{Timeout: 5 * time.Second}, ts.URL, logger)

	snap, err := s.FetchCase(context.Background(), "MHHC010012342023")
	if err != nil {
		t.Fatalf("FetchCase() error = %v", err)
	}
	if snap.Status != "Pending" {
		t.Errorf("Status = %q", snap.Status)
	}
}

func TestFetchCaseNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s := New(&http.Client{Timeout: 5 * time.Second}, ts.URL, logger)

	if _, err := s.FetchCase(context.Background(), "804692"); !errors.Is(err, ErrCaseNotFound) {
		t.Errorf("FetchCase() error = %v, want ErrCaseNotFound", err)
	}
}

func TestFetchCaseForbidden(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s := New(&http.Client{Timeout: 5 * time.Second}, ts.URL, logger)

	if _, err := s.FetchCase(context.Background(), "804692"); !IsForbidden(err) {
		t.Errorf("FetchCase() error = %v, want 403 error", err)
	}
}
