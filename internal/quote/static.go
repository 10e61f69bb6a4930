package quote

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/philipodonnell/paperbroker/internal/asset"
)

// StaticSource serves quotes from an in-memory table of
// (symbol, date) → bid/ask records, answering for one settable current
// date. Suitable for backtests, demos, and tests; load it from a CSV of
// historical records or populate it directly.
type StaticSource struct {
	mu      sync.RWMutex
	records map[staticKey]bidAsk
	current time.Time
}

type staticKey struct {
	symbol string
	date   string // YYYY-MM-DD
}

type bidAsk struct {
	bid, ask decimal.Decimal
}

// NewStaticSource creates an empty source answering for the given date.
func NewStaticSource(currentDate time.Time) *StaticSource {
	return &StaticSource{
		records: make(map[staticKey]bidAsk),
		current: midnight(currentDate),
	}
}

// CurrentDate returns the date quotes are answered for.
func (s *StaticSource) CurrentDate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetCurrentDate advances (or rewinds) the answer date.
func (s *StaticSource) SetCurrentDate(date time.Time) {
	s.mu.Lock()
	s.current = midnight(date)
	s.mu.Unlock()
}

// Add records a bid/ask for a symbol on a date.
func (s *StaticSource) Add(symbol string, date time.Time, bid, ask decimal.Decimal) {
	s.mu.Lock()
	s.records[staticKey{symbol: strings.ToUpper(symbol), date: midnight(date).Format("2006-01-02")}] = bidAsk{bid: bid, ask: ask}
	s.mu.Unlock()
}

// LoadCSV reads records in the form symbol,date,bid,ask (a header row is
// skipped if present) and merges them into the source.
func (s *StaticSource) LoadCSV(r io.Reader) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 4

	for line := 1; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("quote: csv line %d: %w", line, err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "symbol") {
			continue
		}

		date, err := time.Parse("2006-01-02", strings.TrimSpace(rec[1]))
		if err != nil {
			return fmt.Errorf("quote: csv line %d: bad date %q", line, rec[1])
		}
		bid, err := decimal.NewFromString(strings.TrimSpace(rec[2]))
		if err != nil {
			return fmt.Errorf("quote: csv line %d: bad bid %q", line, rec[2])
		}
		ask, err := decimal.NewFromString(strings.TrimSpace(rec[3]))
		if err != nil {
			return fmt.Errorf("quote: csv line %d: bad ask %q", line, rec[3])
		}

		s.Add(rec[0], date, bid, ask)
	}
}

// LoadCSVFile loads a CSV file into a new source.
func LoadCSVFile(path string, currentDate time.Time) (*StaticSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("quote: open %s: %w", path, err)
	}
	defer f.Close()

	s := NewStaticSource(currentDate)
	if err := s.LoadCSV(f); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StaticSource) GetQuote(_ context.Context, a asset.Asset) (*Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getQuoteLocked(a)
}

func (s *StaticSource) getQuoteLocked(a asset.Asset) (*Quote, error) {
	date := s.current.Format("2006-01-02")
	rec, ok := s.records[staticKey{symbol: a.Symbol, date: date}]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoQuote, a.Symbol, date)
	}

	q := New(a, s.current, rec.bid, rec.ask)
	if a.IsOption() {
		if u, ok := s.records[staticKey{symbol: a.Underlying, date: date}]; ok {
			uq := New(a.UnderlyingAsset(), s.current, u.bid, u.ask)
			q.AttachUnderlying(uq.Price)
		}
	}
	return q, nil
}

func (s *StaticSource) GetOptions(_ context.Context, underlying asset.Asset, expiration time.Time) ([]*Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	date := s.current.Format("2006-01-02")
	exp := midnight(expiration)

	var quotes []*Quote
	for key := range s.records {
		if key.date != date {
			continue
		}
		a, err := asset.Parse(key.symbol)
		if err != nil || !a.IsOption() {
			continue
		}
		if a.Underlying != underlying.Symbol || !a.Expiration.Equal(exp) {
			continue
		}
		q, err := s.getQuoteLocked(a)
		if err != nil {
			continue
		}
		quotes = append(quotes, q)
	}

	sort.Slice(quotes, func(i, j int) bool {
		if !quotes[i].Asset.Strike.Equal(quotes[j].Asset.Strike) {
			return quotes[i].Asset.Strike.LessThan(quotes[j].Asset.Strike)
		}
		return quotes[i].Asset.Symbol < quotes[j].Asset.Symbol
	})
	return quotes, nil
}

func (s *StaticSource) GetExpirationDates(_ context.Context, underlying asset.Asset) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	date := s.current.Format("2006-01-02")
	seen := make(map[string]time.Time)
	for key := range s.records {
		if key.date != date {
			continue
		}
		a, err := asset.Parse(key.symbol)
		if err != nil || !a.IsOption() || a.Underlying != underlying.Symbol {
			continue
		}
		seen[a.Expiration.Format("2006-01-02")] = a.Expiration
	}

	dates := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}
