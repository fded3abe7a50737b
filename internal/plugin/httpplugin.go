package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// defaultHTTPPluginTimeout bounds a single callback round trip.
const defaultHTTPPluginTimeout = 5 * time.Second

// defaultHTTPPluginMaxFailures is how many consecutive evaluation failures an
// HTTP plugin tolerates before it disables itself.
const defaultHTTPPluginMaxFailures = 3

// PluginManifest is what a remote plugin declares at registration time.
type PluginManifest struct {
	Name        string `json:"name"`
	Priority    uint8  `json:"priority"`
	CallbackURL string `json:"callback_url"`
}

// PluginRegistrationRequest is the body of a plugin self-registration call.
type PluginRegistrationRequest struct {
	Manifest PluginManifest `json:"manifest"`
}

// PluginRegistrationResponse acknowledges a registration.
type PluginRegistrationResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// httpPluginDecision is the wire shape a remote plugin must return from its
// callback URL; name and priority are always overwritten from the manifest
// after decode, since a remote plugin cannot assert its own ranking.
type httpPluginDecision struct {
	Mode              model.InverterOperationMode `json:"mode"`
	Reason            string                      `json:"reason"`
	Confidence        *float64                    `json:"confidence,omitempty"`
	ExpectedProfitCZK *float64                    `json:"expected_profit_czk,omitempty"`
}

// HTTPPlugin fronts a remote strategy reachable over HTTP. It counts
// consecutive evaluation failures and disables itself once the count reaches
// maxFailures, mirroring a circuit breaker; any successful evaluation resets
// the count.
type HTTPPlugin struct {
	manifest   PluginManifest
	client     *http.Client
	timeout    time.Duration
	maxFailures int

	mu            sync.Mutex
	consecutiveFailures int
	disabled      bool
}

// NewHTTPPlugin builds an HTTPPlugin from a manifest using the default
// timeout and failure threshold.
func NewHTTPPlugin(manifest PluginManifest) *HTTPPlugin {
	return &HTTPPlugin{
		manifest:    manifest,
		client:      &http.Client{Timeout: defaultHTTPPluginTimeout},
		timeout:     defaultHTTPPluginTimeout,
		maxFailures: defaultHTTPPluginMaxFailures,
	}
}

func (p *HTTPPlugin) Name() string    { return p.manifest.Name }
func (p *HTTPPlugin) Priority() uint8 { return p.manifest.Priority }

func (p *HTTPPlugin) IsEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.disabled
}

// recordFailure increments the failure count and disables the plugin once it
// reaches maxFailures.
func (p *HTTPPlugin) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFailures++
	if p.consecutiveFailures >= p.maxFailures {
		p.disabled = true
	}
}

func (p *HTTPPlugin) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFailures = 0
}

func (p *HTTPPlugin) Evaluate(req EvaluationRequest) (BlockDecision, error) {
	body, err := json.Marshal(req)
	if err != nil {
		p.recordFailure()
		return BlockDecision{}, fmt.Errorf("httpplugin %q: encode request: %w", p.manifest.Name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.manifest.CallbackURL, bytes.NewReader(body))
	if err != nil {
		p.recordFailure()
		return BlockDecision{}, fmt.Errorf("httpplugin %q: build request: %w", p.manifest.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.recordFailure()
		return BlockDecision{}, fmt.Errorf("httpplugin %q: callback request failed: %w", p.manifest.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.recordFailure()
		return BlockDecision{}, fmt.Errorf("httpplugin %q: callback returned status %d", p.manifest.Name, resp.StatusCode)
	}

	var decoded httpPluginDecision
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		p.recordFailure()
		return BlockDecision{}, fmt.Errorf("httpplugin %q: decode callback response: %w", p.manifest.Name, err)
	}

	p.recordSuccess()

	name := p.manifest.Name
	return BlockDecision{
		BlockStart:        req.Block.BlockStart,
		DurationMinutes:   req.Block.DurationMinutes,
		Mode:              decoded.Mode,
		Reason:            decoded.Reason,
		Priority:          p.manifest.Priority,
		StrategyName:      &name,
		Confidence:        decoded.Confidence,
		ExpectedProfitCZK: decoded.ExpectedProfitCZK,
	}, nil
}
