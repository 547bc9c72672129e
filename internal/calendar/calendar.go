// Package calendar answers "is the market open" for both asset domains.
// Stock hours are 09:00–15:30 KST on weekdays that are not KRX holidays;
// crypto never closes. The holiday set is fetched from an open-data API,
// persisted, and held in memory for 24 hours.
package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

const holidayRefreshInterval = 24 * time.Hour

// KST is the exchange timezone. Asia/Seoul has no DST, so a fixed offset is
// a safe fallback when the tz database is unavailable.
var KST = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}()

// HolidayRepository persists the fetched holiday table.
type HolidayRepository interface {
	UpsertHolidays(ctx context.Context, holidays []domain.Holiday) error
	ListHolidays(ctx context.Context, year int) ([]domain.Holiday, error)
}

// Config holds calendar settings.
type Config struct {
	HolidayAPIURL string // Empty disables fetching; persisted rows still load
}

// Service classifies trading days and market hours.
type Service struct {
	cfg  Config
	http *resty.Client
	repo HolidayRepository
	log  zerolog.Logger

	mu        sync.RWMutex
	holidays  map[string]struct{} // YYYY-MM-DD
	refreshed time.Time
}

// New creates a calendar service.
func New(cfg Config, repo HolidayRepository, log zerolog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		http:     resty.New().SetTimeout(15 * time.Second),
		repo:     repo,
		log:      log.With().Str("component", "calendar").Logger(),
		holidays: make(map[string]struct{}),
	}
}

type holidayDTO struct {
	Date string `json:"locdate"` // YYYYMMDD
	Name string `json:"dateName"`
}

type holidayAPIResponse struct {
	Items []holidayDTO `json:"items"`
}

// Refresh loads the holiday set for the given year: persisted rows first,
// then the open-data API when configured. Errors keep the previous set.
func (s *Service) Refresh(ctx context.Context, year int) error {
	fresh := make(map[string]struct{})

	if s.repo != nil {
		stored, err := s.repo.ListHolidays(ctx, year)
		if err != nil {
			return fmt.Errorf("loading stored holidays: %w", err)
		}
		for _, h := range stored {
			fresh[h.Date] = struct{}{}
		}
	}

	if s.cfg.HolidayAPIURL != "" {
		fetched, err := s.fetchYear(ctx, year)
		if err != nil {
			s.log.Warn().Err(err).Int("year", year).Msg("Holiday fetch failed, using stored set")
		} else {
			for _, h := range fetched {
				fresh[h.Date] = struct{}{}
			}
			if s.repo != nil {
				if err := s.repo.UpsertHolidays(ctx, fetched); err != nil {
					s.log.Warn().Err(err).Msg("Persisting holidays failed")
				}
			}
		}
	}

	s.mu.Lock()
	s.holidays = fresh
	s.refreshed = time.Now()
	s.mu.Unlock()

	s.log.Info().Int("year", year).Int("count", len(fresh)).Msg("Holiday set refreshed")
	return nil
}

func (s *Service) fetchYear(ctx context.Context, year int) ([]domain.Holiday, error) {
	var out holidayAPIResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("solYear", fmt.Sprintf("%d", year)).
		SetQueryParam("_type", "json").
		SetResult(&out).
		Get(s.cfg.HolidayAPIURL)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("holiday API returned status %d", resp.StatusCode())
	}

	holidays := make([]domain.Holiday, 0, len(out.Items))
	for _, item := range out.Items {
		t, err := time.Parse("20060102", item.Date)
		if err != nil {
			continue
		}
		holidays = append(holidays, domain.Holiday{
			Date:      t.Format("2006-01-02"),
			DayOfWeek: t.Weekday().String(),
			Name:      item.Name,
			Year:      t.Year(),
		})
	}
	return holidays, nil
}

// maybeRefresh re-fetches when the in-memory set is older than 24 hours.
func (s *Service) maybeRefresh(ctx context.Context, now time.Time) {
	s.mu.RLock()
	stale := now.Sub(s.refreshed) > holidayRefreshInterval
	s.mu.RUnlock()
	if stale {
		if err := s.Refresh(ctx, now.In(KST).Year()); err != nil {
			s.log.Warn().Err(err).Msg("Holiday refresh failed")
		}
	}
}

// IsHoliday reports whether the given date is a KRX holiday.
func (s *Service) IsHoliday(date time.Time) bool {
	key := date.In(KST).Format("2006-01-02")
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.holidays[key]
	return ok
}

// IsTradingDay reports whether the stock market trades on the given date.
func (s *Service) IsTradingDay(ctx context.Context, date time.Time) bool {
	s.maybeRefresh(ctx, date)
	d := date.In(KST)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	return !s.IsHoliday(d)
}

// IsMarketOpen reports whether orders can execute now in the given market.
// Crypto is always open; stocks trade 09:00–15:30 KST on trading days.
func (s *Service) IsMarketOpen(ctx context.Context, market domain.Market, now time.Time) bool {
	if market == domain.MarketCrypto {
		return true
	}
	if !s.IsTradingDay(ctx, now) {
		return false
	}
	k := now.In(KST)
	minutes := k.Hour()*60 + k.Minute()
	return minutes >= 9*60 && minutes <= 15*60+30
}

// NextOpen returns the next instant the stock market opens at or after now.
// Used to schedule the queued-trade drain.
func (s *Service) NextOpen(ctx context.Context, now time.Time) time.Time {
	k := now.In(KST)
	open := time.Date(k.Year(), k.Month(), k.Day(), 9, 0, 0, 0, KST)
	if !k.Before(open) {
		open = open.AddDate(0, 0, 1)
	}
	for i := 0; i < 14; i++ { // Holiday clusters never exceed two weeks
		if s.IsTradingDay(ctx, open) {
			return open
		}
		open = open.AddDate(0, 0, 1)
	}
	return open
}
