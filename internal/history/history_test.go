package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/kaia/internal/db"
	"github.com/hpungsan/kaia/internal/errors"
	"github.com/hpungsan/kaia/internal/normalize"
)

func setupLog(t *testing.T) *Log {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database)
}

func TestRecordAndGet(t *testing.T) {
	l := setupLog(t)
	risk := "Tight stops"
	credits := 4

	e := &Entry{
		Tier: "Platinum", View: "expanded", Timeframe: "1h", Strategy: "SMC", Language: "en",
		Result: normalize.Result{
			Bias: "Bullish", Phase: "Expansion", Confidence: "High", Narrative: "text",
			RiskNote: &risk,
			Fields:   map[string]string{"key_levels.upside": "price: 1.2345"},
		},
		RemainingCredits: &credits,
	}
	require.NoError(t, l.Record(e))
	require.Len(t, e.ID, 26, "ULID")
	require.NotZero(t, e.CreatedAt)

	got, err := l.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bullish", got.Result.Bias)
	assert.Equal(t, "price: 1.2345", got.Result.Field("key_levels.upside"))
	require.NotNil(t, got.Result.RiskNote)
	assert.Equal(t, risk, *got.Result.RiskNote)
	require.NotNil(t, got.RemainingCredits)
	assert.Equal(t, 4, *got.RemainingCredits)

	_, err = l.Get("nope")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestListAndLatest(t *testing.T) {
	l := setupLog(t)

	_, err := l.Latest()
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		l.now = func() time.Time { return ts }
		require.NoError(t, l.Record(&Entry{
			Tier: "Standard", View: "compact", Timeframe: "15m", Strategy: "SMC", Language: "ar",
			Result: normalize.Normalize(map[string]any{"market_bias": []string{"a", "b", "c"}[i]}),
		}))
	}

	latest, err := l.Latest()
	require.NoError(t, err)
	assert.Equal(t, "c", latest.Result.Bias)

	page, err := l.List(2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "c", page.Items[0].Result.Bias)

	page, err = l.List(0, 2)
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, page.Limit)
	require.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)
	assert.Equal(t, "a", page.Items[0].Result.Bias)

	page, err = l.List(1000, -5)
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, page.Limit)
	assert.Equal(t, 0, page.Offset)
}
