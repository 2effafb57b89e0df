// Package feeds fetches the best-effort third-party feeds shown around the
// workspace: a market news ticker and the public holiday calendar.
package feeds

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxHeadlines caps how many RSS items make the ticker.
	MaxHeadlines = 15
	// HeadlineSeparator joins ticker items.
	HeadlineSeparator = " ★ "

	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	maxFeedBytes    = 2 << 20
	holidayDateForm = "2006-01-02"
)

// DefaultNews is the ticker copy shown before any feed has been fetched.
var DefaultNews = map[string]string{
	"ar": "KAIA AI: نراقب تحركات السيولة والسياسة النقدية الحالية",
	"en": "KAIA AI: Monitoring current liquidity and monetary policy",
}

// DefaultNewsFor returns the default ticker copy for lang.
func DefaultNewsFor(lang string) string {
	if s, ok := DefaultNews[lang]; ok {
		return s
	}
	return DefaultNews["ar"]
}

// Holiday is one public holiday.
type Holiday struct {
	Date      string `json:"date"`
	Name      string `json:"name"`
	LocalName string `json:"localName"`
}

// Day parses Date. The zero time is returned for malformed dates.
func (h Holiday) Day() time.Time {
	t, err := time.Parse(holidayDateForm, h.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Client fetches feeds over HTTP.
type Client struct {
	http       *http.Client
	newsURLs   map[string]string
	holidayURL string
}

// NewClient creates a feed client. newsURLs maps language to RSS URL and
// holidayURL is a template with {year} and {country} placeholders.
func NewClient(hc *http.Client, newsURLs map[string]string, holidayURL string) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{http: hc, newsURLs: newsURLs, holidayURL: holidayURL}
}

type rss struct {
	Items []struct {
		Title string `xml:"title"`
	} `xml:"channel>item"`
}

// News fetches the RSS feed for lang and joins its headlines into ticker
// text. An empty feed is an error so the caller keeps its previous value.
func (c *Client) News(ctx context.Context, lang string) (string, error) {
	url, ok := c.newsURLs[lang]
	if !ok {
		return "", fmt.Errorf("no news feed for language %q", lang)
	}
	body, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}
	return ParseNews(body)
}

// ParseNews extracts up to MaxHeadlines titles from an RSS document.
func ParseNews(doc []byte) (string, error) {
	var feed rss
	if err := xml.Unmarshal(doc, &feed); err != nil {
		return "", fmt.Errorf("parse rss: %w", err)
	}

	titles := make([]string, 0, MaxHeadlines)
	for _, item := range feed.Items {
		if len(titles) == MaxHeadlines {
			break
		}
		t := strings.NewReplacer(`"`, "", "'", "").Replace(strings.TrimSpace(item.Title))
		if t == "" {
			continue
		}
		titles = append(titles, t)
	}
	if len(titles) == 0 {
		return "", fmt.Errorf("rss feed has no headlines")
	}
	return strings.Join(titles, HeadlineSeparator), nil
}

// Holidays fetches the public holidays for year and country.
func (c *Client) Holidays(ctx context.Context, year int, country string) ([]Holiday, error) {
	url := strings.NewReplacer(
		"{year}", strconv.Itoa(year),
		"{country}", strings.ToUpper(country),
	).Replace(c.holidayURL)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	return ParseHolidays(string(body))
}

// ParseHolidays decodes a holiday list payload, sorted by date.
func ParseHolidays(payload string) ([]Holiday, error) {
	var list []Holiday
	if err := json.Unmarshal([]byte(payload), &list); err != nil {
		return nil, fmt.Errorf("parse holidays: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Date < list[j].Date })
	return list, nil
}

// IsHoliday returns the holiday falling on day, if any.
func IsHoliday(list []Holiday, day time.Time) (Holiday, bool) {
	want := day.Format(holidayDateForm)
	for _, h := range list {
		if h.Date == want {
			return h, true
		}
	}
	return Holiday{}, false
}

// Upcoming returns at most n holidays on or after from.
func Upcoming(list []Holiday, from time.Time, n int) []Holiday {
	start := from.Format(holidayDateForm)
	var out []Holiday
	for _, h := range list {
		if len(out) == n {
			break
		}
		if h.Date >= start {
			out = append(out, h)
		}
	}
	return out
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("feed request failed: status=%d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
}
