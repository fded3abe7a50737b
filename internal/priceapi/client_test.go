package priceapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleDocument = `<?xml version="1.0" encoding="UTF-8"?>
<Publication_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-3:publicationdocument:7:0">
    <mRID>1</mRID>
    <TimeSeries>
        <Period>
            <timeInterval>
                <start>2026-01-10T23:00Z</start>
                <end>2026-01-11T23:00Z</end>
            </timeInterval>
            <resolution>PT60M</resolution>
            <Point><position>1</position><price.amount>2.50</price.amount></Point>
            <Point><position>2</position><price.amount>1.90</price.amount></Point>
        </Period>
    </TimeSeries>
</Publication_MarketDocument>`

func TestClient_FetchDayAhead_MorningOnlyFetchesToday(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(sampleDocument))
	}))
	defer server.Close()

	loc, err := time.LoadLocation("Europe/Prague")
	require.NoError(t, err)

	c := NewClient()
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, loc)
	data, err := c.FetchDayAhead(context.Background(), server.URL+"?start=%s&end=%s&token=%s", "secret", loc, now)
	require.NoError(t, err)
	require.Equal(t, 1, hits, "before 13:00 only today's document should be fetched")
	require.Len(t, data.Blocks, 2)
	require.Equal(t, 2.50, data.Blocks[0].PriceCZKPerKWh)
	require.Equal(t, 60, data.Blocks[0].DurationMinutes)
}

func TestClient_FetchDayAhead_AfternoonMergesTomorrow(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(sampleDocument))
	}))
	defer server.Close()

	loc, err := time.LoadLocation("Europe/Prague")
	require.NoError(t, err)

	c := NewClient()
	now := time.Date(2026, 1, 10, 14, 0, 0, 0, loc)
	data, err := c.FetchDayAhead(context.Background(), server.URL+"?start=%s&end=%s&token=%s", "secret", loc, now)
	require.NoError(t, err)
	require.Equal(t, 2, hits, "at/after 13:00 both today's and tomorrow's documents should be fetched")
	require.Len(t, data.Blocks, 2, "duplicate block starts across the two fetches are deduplicated")
}

func TestClient_FetchDayAhead_TomorrowFailureIsNotFatal(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(sampleDocument))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	loc, err := time.LoadLocation("Europe/Prague")
	require.NoError(t, err)

	c := NewClient()
	now := time.Date(2026, 1, 10, 14, 0, 0, 0, loc)
	data, err := c.FetchDayAhead(context.Background(), server.URL+"?start=%s&end=%s&token=%s", "secret", loc, now)
	require.NoError(t, err)
	require.Len(t, data.Blocks, 2, "today's prices still stand even when tomorrow's auction has not cleared")
}

func TestParseISO8601Duration(t *testing.T) {
	d, err := parseISO8601Duration("PT15M")
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, d)

	_, err = parseISO8601Duration("P1W")
	require.Error(t, err)
}
