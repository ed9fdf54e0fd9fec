// booking-sim exercises a running booking-service the way the public widget
// does: it flips between dates in the slot picker, keeps only the latest
// answer, then races several customers for the first free slot.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/chairbook/libs/config"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
)

func main() {
	var (
		baseURL   = flag.String("base-url", config.String("BASE_URL", "http://localhost:8083"), "booking-service base url")
		slug      = flag.String("slug", config.String("TENANT_SLUG", ""), "tenant slug")
		dateRaw   = flag.String("date", config.String("BOOKING_DATE", ""), "date to book (YYYY-MM-DD)")
		staffID   = flag.String("staff-id", config.String("STAFF_ID", ""), "staff member, empty for tenant-wide")
		customers = flag.Int("customers", config.Int("CUSTOMERS", 5), "concurrent customers racing for one slot")
		service   = flag.String("service-id", config.String("SERVICE_ID", "haircut"), "service to book")
	)
	flag.Parse()

	if strings.TrimSpace(*slug) == "" {
		fatal("TENANT_SLUG is required")
	}
	date, err := model.ParseDate(*dateRaw)
	if err != nil {
		fatal("BOOKING_DATE must be YYYY-MM-DD")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	f := newHTTPFetcher(*baseURL, &http.Client{Timeout: 10 * time.Second})
	res, err := pickLatest(ctx, availability.NewSelector(f), *slug, date, *staffID)
	if err != nil {
		fatal(err.Error())
	}
	if len(res.Slots) == 0 {
		fatal(fmt.Sprintf("no free slots on %s", date))
	}
	slot := res.Slots[0]
	fmt.Printf("free=%d picking=%s\n", len(res.Slots), slot)

	counts := race(ctx, f, *slug, bookPayload{
		StaffID:    *staffID,
		Date:       date,
		Time:       slot,
		ServiceIDs: []string{*service},
	}, *customers)

	codes := make([]int, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("status=%d count=%d\n", code, counts[code])
	}
	if counts[http.StatusCreated] != 1 {
		fatal("expected exactly one customer to win the slot")
	}
}

// pickLatest mimics a user who clicks the next day and straight back: only
// the last query may answer.
func pickLatest(ctx context.Context, sel *availability.Selector, slug string, date model.Date, staffID string) (availability.Result, error) {
	defer sel.Close()

	stale := make(chan error, 1)
	go func() {
		_, err := sel.Fetch(ctx, availability.Query{TenantID: slug, Date: date.AddDays(1), StaffID: staffID})
		stale <- err
	}()
	// Give the first query a head start so the second supersedes it.
	time.Sleep(5 * time.Millisecond)

	q := availability.Query{TenantID: slug, Date: date, StaffID: staffID}
	res, err := sel.Fetch(ctx, q)
	if err := <-stale; err != nil && !errors.Is(err, availability.ErrSuperseded) && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "earlier query failed: %v\n", err)
	}
	if errors.Is(err, availability.ErrSuperseded) {
		// The other query started late and won; ask again.
		res, err = sel.Fetch(ctx, q)
	}
	return res, err
}

type httpFetcher struct {
	base   string
	client *http.Client
}

func newHTTPFetcher(base string, client *http.Client) *httpFetcher {
	return &httpFetcher{base: strings.TrimRight(base, "/"), client: client}
}

// Available queries the public slots endpoint. tenantID is the slug.
func (f *httpFetcher) Available(ctx context.Context, slug string, date model.Date, staffID string) (availability.Result, error) {
	q := url.Values{"date": {date.String()}}
	if staffID != "" {
		q.Set("staff_id", staffID)
	}
	u := fmt.Sprintf("%s/api/v1/public/%s/slots?%s", f.base, url.PathEscape(slug), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return availability.Result{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return availability.Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return availability.Result{}, fmt.Errorf("slots: unexpected status %d", resp.StatusCode)
	}
	var res availability.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return availability.Result{}, fmt.Errorf("slots: decode: %w", err)
	}
	return res, nil
}

type bookPayload struct {
	StaffID    string         `json:"staff_id,omitempty"`
	Date       model.Date     `json:"date"`
	Time       string         `json:"time"`
	ServiceIDs []string       `json:"service_ids"`
	Customer   model.Customer `json:"customer"`
}

func (f *httpFetcher) book(ctx context.Context, slug string, p bookPayload) (int, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return 0, err
	}
	u := fmt.Sprintf("%s/api/v1/public/%s/book", f.base, url.PathEscape(slug))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// race submits n bookings for the same slot at once and counts response
// codes. Transport failures are counted under 0.
func race(ctx context.Context, f *httpFetcher, slug string, p bookPayload, n int) map[int]int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = map[int]int{}
		start  = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mine := p
			mine.Customer = model.Customer{Name: fmt.Sprintf("Customer %d", i+1), Phone: fmt.Sprintf("+1555010%02d", i)}
			<-start
			code, err := f.book(ctx, slug, mine)
			if err != nil {
				code = 0
			}
			mu.Lock()
			counts[code]++
			mu.Unlock()
		}(i)
	}
	close(start)
	wg.Wait()
	return counts
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
