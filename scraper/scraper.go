// Package scraper fetches and parses court case-status pages.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"

	"courtwatch/pkg/courtcase"
)

// ErrCaseNotFound indicates the court website has no record for a cino.
var ErrCaseNotFound = errors.New("scraper: case not found")

// HTTPForbiddenError indicates a 403 Forbidden response from the court
// website, usually a block or captcha wall. Not retryable.
type HTTPForbiddenError struct {
	URL string
}

func (e *HTTPForbiddenError) Error() string {
	return fmt.Sprintf("HTTP 403 Forbidden: %s", e.URL)
}

// IsForbidden checks if an error is an HTTP 403 error.
func IsForbidden(err error) bool {
	var forbidden *HTTPForbiddenError
	return errors.As(err, &forbidden)
}

// Date layouts seen on case-status pages, most common first.
var dateLayouts = []string{"02-01-2006", "02/01/2006", "2006-01-02", "2 January 2006", "02 Jan 2006"}

// Scraper fetches case-status pages from the court website.
type Scraper struct {
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// New creates a new scraper against the given case-status base URL.
func New(client *http.Client, baseURL string, logger *slog.Logger) *Scraper {
	return &Scraper{
		client:  client,
		logger:  logger,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// FetchCase fetches and parses the case-status page for a cino. Returns
// ErrCaseNotFound when the website has no record for it. Transient
// failures are retried with bounded backoff before giving up.
func (s *Scraper) FetchCase(ctx context.Context, cino string) (*courtcase.CaseSnapshot, error) {
	pageURL := fmt.Sprintf("%s/case-status?cino=%s", s.baseURL, url.QueryEscape(cino))

	var snap *courtcase.CaseSnapshot
	err := retry.Do(
		func() error {
			s.logger.Info("HTTP request starting",
				"method", "GET",
				"url", pageURL,
				"cino", cino,
				"purpose", "fetch_case_status")

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			// Browser-like headers to avoid getting blocked
			req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
			req.Header.Set("Accept-Language", "en-US,en;q=0.9")

			startTime := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Warn("HTTP request failed, will retry",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Info("HTTP request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			switch {
			case resp.StatusCode == http.StatusNotFound:
				return retry.Unrecoverable(ErrCaseNotFound)
			case resp.StatusCode == http.StatusForbidden:
				s.logger.Warn("HTTP 403 Forbidden from court website", "url", pageURL)
				return retry.Unrecoverable(&HTTPForbiddenError{URL: pageURL})
			case resp.StatusCode != http.StatusOK:
				s.logger.Warn("HTTP request returned non-OK status, will retry", "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			snap, err = Parse(resp.Body, cino)
			if err != nil {
				if errors.Is(err, ErrCaseNotFound) {
					return retry.Unrecoverable(err)
				}
				s.logger.Error("Failed to parse case-status page", "cino", cino, "error", err)
				return retry.Unrecoverable(err)
			}

			s.logger.Info("Case-status page parsed",
				"cino", cino,
				"status", snap.Status,
				"stage", snap.StageOfCase,
				"listing_entries", len(snap.ListingHistory),
				"interim_applications", len(snap.InterimApplications))

			return nil
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying case fetch after error", "attempt", n, "cino", cino, "error", err)
		}),
	)
	if err != nil {
		if errors.Is(err, ErrCaseNotFound) || IsForbidden(err) {
			return nil, err
		}
		return nil, fmt.Errorf("after retries: %w", err)
	}

	return snap, nil
}

// Parse extracts a case snapshot from a case-status page body.
func Parse(body io.Reader, cino string) (*courtcase.CaseSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}

	pageText := doc.Text()
	if strings.Contains(pageText, "Case Code not found") ||
		strings.Contains(pageText, "This Case Code does not exists") {
		return nil, ErrCaseNotFound
	}

	snap := &courtcase.CaseSnapshot{
		Cino:      cino,
		FetchedAt: time.Now().UTC(),
	}

	// Label/value tables (case details + case status sections)
	doc.Find("table.case_details_table tr, table.case_status_table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return
		}
		label := normalizeLabel(cells.Eq(0).Text())
		value := strings.TrimSpace(cells.Eq(1).Text())
		applyField(snap, label, value)
	})

	if snap.CaseTitle == "" {
		snap.CaseTitle = strings.TrimSpace(doc.Find("h2.case-title, span.case_title").First().Text())
	}

	// Interim application table: IA number | party | date of filing | status
	doc.Find("table.IA_table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return // header or decorative row
		}
		app := courtcase.InterimApplication{
			Number: strings.TrimSpace(cells.Eq(0).Text()),
			Party:  strings.TrimSpace(cells.Eq(1).Text()),
		}
		if cells.Length() > 2 {
			app.FiledOn = parseDate(cells.Eq(2).Text())
		}
		if cells.Length() > 3 {
			app.Status = strings.TrimSpace(cells.Eq(3).Text())
		}
		if app.Number != "" {
			snap.InterimApplications = append(snap.InterimApplications, app)
		}
	})

	// Listing history table: cause list type | judge | bench | date | short order
	doc.Find("table.history_table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		event := courtcase.ListingEvent{
			CauseListType: strings.TrimSpace(cells.Eq(0).Text()),
			Judge:         strings.TrimSpace(cells.Eq(1).Text()),
		}
		if cells.Length() > 2 {
			event.BenchID = strings.TrimSpace(cells.Eq(2).Text())
		}
		if cells.Length() > 3 {
			event.ListedOn = parseDate(cells.Eq(3).Text())
		}
		if cells.Length() > 4 {
			event.ShortOrder = strings.TrimSpace(cells.Eq(4).Text())
		}
		if event.CauseListType != "" || event.Judge != "" {
			snap.ListingHistory = append(snap.ListingHistory, event)
		}
	})

	if snap.Status == "" && snap.StageOfCase == "" && len(snap.ListingHistory) == 0 {
		return nil, fmt.Errorf("no case data found on page (cino=%q)", cino)
	}

	return snap, nil
}

// applyField maps a label cell onto the snapshot. Unknown labels are
// ignored so layout additions on the source site stay harmless.
func applyField(snap *courtcase.CaseSnapshot, label, value string) {
	if value == "" {
		return
	}
	switch label {
	case "case type":
		snap.CaseType = value
	case "filing number":
		snap.FilingNumber = value
	case "registration number":
		snap.RegistrationNumber = value
	case "cnr number", "cino":
		// The page echoes the cino back; the caller's value wins.
	case "case status", "status":
		snap.Status = value
	case "stage of case", "case stage":
		snap.StageOfCase = value
	case "coram":
		snap.Coram = value
	case "bench", "bench type":
		snap.Bench = value
	case "petitioner and advocate", "petitioner versus respondent":
		snap.CaseTitle = value
	case "first hearing date":
		snap.FirstHearingDate = parseDate(value)
	case "next hearing date", "next date":
		snap.NextHearingDate = parseDate(value)
	case "decision date":
		snap.DecisionDate = parseDate(value)
	}
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimSuffix(s, ":")
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "na") || strings.EqualFold(s, "n/a") {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
