package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hpungsan/kaia/internal/cache"
)

// Service serves feeds through the availability cache. Calls never wait on
// the network.
type Service struct {
	client     *Client
	cache      *cache.Cache
	newsTTL    time.Duration
	holidayTTL time.Duration
	country    string
}

// NewService wires client through c.
func NewService(client *Client, c *cache.Cache, newsTTL, holidayTTL time.Duration, country string) *Service {
	return &Service{
		client:     client,
		cache:      c,
		newsTTL:    newsTTL,
		holidayTTL: holidayTTL,
		country:    strings.ToUpper(country),
	}
}

// NewsKey is the cache key for a language's ticker.
func NewsKey(lang string) string {
	return "news:" + lang
}

// HolidayKey is the cache key for a year's holiday list.
func HolidayKey(year int, country string) string {
	return fmt.Sprintf("holidays:%d:%s", year, strings.ToUpper(country))
}

// News returns the ticker text for lang and whether it is fresh. Before the
// first successful fetch the default copy is returned.
func (s *Service) News(ctx context.Context, lang string) (string, bool) {
	return s.cache.Load(ctx, NewsKey(lang), s.newsTTL, DefaultNewsFor(lang), func(ctx context.Context) (string, error) {
		return s.client.News(ctx, lang)
	})
}

// Holidays returns the holiday list for year and whether it is fresh. An
// unreadable stored payload yields an empty list.
func (s *Service) Holidays(ctx context.Context, year int) ([]Holiday, bool) {
	payload, fresh := s.cache.Load(ctx, HolidayKey(year, s.country), s.holidayTTL, "[]", func(ctx context.Context) (string, error) {
		list, err := s.client.Holidays(ctx, year, s.country)
		if err != nil {
			return "", err
		}
		data, err := json.Marshal(list)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})

	list, err := ParseHolidays(payload)
	if err != nil {
		slog.Warn("discarding unreadable holiday cache", "year", year, "error", err)
		return nil, false
	}
	return list, fresh
}

// Today reports whether now is a public holiday.
func (s *Service) Today(ctx context.Context, now time.Time) (Holiday, bool) {
	list, _ := s.Holidays(ctx, now.Year())
	return IsHoliday(list, now)
}

// Prefetch schedules a news refresh for lang, for use after a language
// switch.
func (s *Service) Prefetch(ctx context.Context, lang string) {
	s.News(ctx, lang)
}

// Country returns the configured holiday country.
func (s *Service) Country() string {
	return s.country
}

// Wait joins pending background refreshes.
func (s *Service) Wait() {
	s.cache.Wait()
}
