// Package priceapi fetches day-ahead wholesale electricity prices and
// normalizes them into model.SpotPriceData, from either a Home Assistant
// price sensor or an ENTSO-E-style Publication_MarketDocument XML endpoint.
package priceapi

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/devskill-org/energy-management-system/internal/model"
	"github.com/devskill-org/energy-management-system/utils"
)

// Source is implemented by anything able to produce the current day-ahead
// price horizon; PriceWorker is pointed at one Source and does not care
// whether it talks XML, JSON, or a home-automation sensor underneath.
// ENTSOESource and homeassistant-backed HomeAssistantSource (priceapi's
// sibling file) both implement it.
type Source interface {
	FetchPrices(ctx context.Context, now time.Time) (model.SpotPriceData, error)
}

// Client downloads and decodes day-ahead price documents.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient returns a Client with a default user agent.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{},
		userAgent:  "energy-management-system/1.0",
	}
}

// FetchDayAhead builds the request URL from urlFormat (a %s/%s/%s template
// for periodStart, periodEnd, securityToken), downloads today's document and,
// once local time is at or past 13:00 (the hour ENTSO-E typically publishes
// the next day's auction results), also downloads and merges tomorrow's.
func (c *Client) FetchDayAhead(ctx context.Context, urlFormat, securityToken string, loc *time.Location, now time.Time) (model.SpotPriceData, error) {
	now = now.In(loc)

	doc, err := c.fetchOneDay(ctx, urlFormat, securityToken, now)
	if err != nil {
		return model.SpotPriceData{}, err
	}
	blocks := documentToBlocks(doc)

	if now.Hour() >= 13 {
		tomorrow := now.AddDate(0, 0, 1)
		docNext, err := c.fetchOneDay(ctx, urlFormat, securityToken, tomorrow)
		if err != nil {
			// Tomorrow's auction may not have cleared yet; today's prices
			// still stand, so this is not fatal.
			return finalize(blocks), nil
		}
		blocks = append(blocks, documentToBlocks(docNext)...)
	}

	return finalize(blocks), nil
}

// ENTSOESource adapts Client to the Source interface by pinning the URL
// template, security token, and display time zone at construction time, so
// PriceWorker can call FetchPrices(ctx, now) without knowing it is talking
// to an ENTSO-E-style document endpoint underneath.
type ENTSOESource struct {
	client        *Client
	urlFormat     string
	securityToken string
	location      *time.Location
}

// NewENTSOESource builds an ENTSOESource. A non-positive timeout keeps the
// client's default.
func NewENTSOESource(urlFormat, securityToken string, location *time.Location, timeout time.Duration) *ENTSOESource {
	client := NewClient()
	if timeout > 0 {
		client.httpClient.Timeout = timeout
	}
	return &ENTSOESource{
		client:        client,
		urlFormat:     urlFormat,
		securityToken: securityToken,
		location:      location,
	}
}

// FetchPrices implements Source.
func (s *ENTSOESource) FetchPrices(ctx context.Context, now time.Time) (model.SpotPriceData, error) {
	return s.client.FetchDayAhead(ctx, s.urlFormat, s.securityToken, s.location, now)
}

// finalize wraps blocks into a SpotPriceData, deduplicating by block start
// (the today/tomorrow documents overlap at the day boundary on some market
// areas) but without applying the distribution fee: callers normalize with
// their own configured fee once the fetched blocks are merged into the
// running price history.
func finalize(blocks []model.TimeBlockPrice) model.SpotPriceData {
	dedup := make(map[time.Time]model.TimeBlockPrice, len(blocks))
	for _, b := range blocks {
		dedup[b.BlockStart] = b
	}
	out := make([]model.TimeBlockPrice, 0, len(dedup))
	for _, b := range dedup {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockStart.Before(out[j].BlockStart) })
	return model.SpotPriceData{Blocks: out, FetchedAt: time.Now().UTC()}
}

func (c *Client) fetchOneDay(ctx context.Context, urlFormat, securityToken string, day time.Time) (*publicationMarketDocument, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	reqURL := fmt.Sprintf(urlFormat, utils.GetUTCString(start), utils.GetUTCString(end), securityToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("priceapi: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("priceapi: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("priceapi: unexpected status %d: %s", resp.StatusCode, resp.Status)
	}

	return decodeDocument(resp.Body)
}

// documentToBlocks flattens every TimeSeries/Period/Point in doc into
// TimeBlockPrice entries at the period's native resolution.
func documentToBlocks(doc *publicationMarketDocument) []model.TimeBlockPrice {
	var blocks []model.TimeBlockPrice
	for _, ts := range doc.TimeSeries {
		p := ts.Period
		for _, pt := range p.Points {
			start := p.TimeInterval.Start.Add(time.Duration(pt.Position-1) * p.Resolution)
			blocks = append(blocks, model.TimeBlockPrice{
				BlockStart:      start,
				DurationMinutes: int(p.Resolution / time.Minute),
				PriceCZKPerKWh:  pt.PriceAmount,
			})
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].BlockStart.Before(blocks[j].BlockStart) })
	return blocks
}

// publicationMarketDocument is the subset of the ENTSO-E
// Publication_MarketDocument schema this client needs.
type publicationMarketDocument struct {
	XMLName    xml.Name     `xml:"Publication_MarketDocument"`
	TimeSeries []timeSeries `xml:"TimeSeries"`
}

type timeSeries struct {
	Period period `xml:"Period"`
}

type period struct {
	TimeInterval timeInterval
	Resolution   time.Duration
	Points       []point
}

// UnmarshalXML decodes Period's timeInterval/resolution/Point children,
// converting the ISO 8601 resolution string and ENTSO-E's loose timestamp
// format into time.Duration/time.Time.
func (p *period) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var aux struct {
		TimeInterval struct {
			Start string `xml:"start"`
			End   string `xml:"end"`
		} `xml:"timeInterval"`
		Resolution string  `xml:"resolution"`
		Points     []point `xml:"Point"`
	}
	if err := d.DecodeElement(&aux, &start); err != nil {
		return err
	}

	startTime, err := parseENTSOETime(aux.TimeInterval.Start)
	if err != nil {
		return fmt.Errorf("priceapi: period start: %w", err)
	}
	endTime, err := parseENTSOETime(aux.TimeInterval.End)
	if err != nil {
		return fmt.Errorf("priceapi: period end: %w", err)
	}
	resolution, err := parseISO8601Duration(aux.Resolution)
	if err != nil {
		return fmt.Errorf("priceapi: resolution: %w", err)
	}

	p.TimeInterval = timeInterval{Start: startTime, End: endTime}
	p.Resolution = resolution
	p.Points = aux.Points
	return nil
}

type timeInterval struct {
	Start time.Time
	End   time.Time
}

// point is a single price quote at a 1-based position within a Period.
// Position 1 covers [Start, Start+Resolution).
type point struct {
	Position    int     `xml:"position"`
	PriceAmount float64 `xml:"price.amount"`
}

// parseENTSOETime accepts both the Z-suffixed and bare ENTSO-E timestamp
// formats observed across document variants.
func parseENTSOETime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04Z", time.RFC3339, "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// parseISO8601Duration parses the small subset of ISO 8601 durations
// ENTSO-E resolutions actually use: PT15M, PT30M, PT60M, P1D.
func parseISO8601Duration(s string) (time.Duration, error) {
	switch s {
	case "PT15M":
		return 15 * time.Minute, nil
	case "PT30M":
		return 30 * time.Minute, nil
	case "PT60M", "PT1H":
		return time.Hour, nil
	case "P1D":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported resolution %q", s)
	}
}

func decodeDocument(r io.Reader) (*publicationMarketDocument, error) {
	var doc publicationMarketDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("priceapi: decode xml: %w", err)
	}
	return &doc, nil
}
