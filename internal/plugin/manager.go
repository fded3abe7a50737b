package plugin

import (
	"log"
	"sort"
	"sync"

	"github.com/devskill-org/energy-management-system/internal/model"
)

type pluginEntry struct {
	plugin           Plugin
	enabled          bool
	priorityOverride *uint8
}

func (e *pluginEntry) effectivePriority() uint8 {
	if e.priorityOverride != nil {
		return *e.priorityOverride
	}
	return e.plugin.Priority()
}

// Manager maintains a name-indexed table of plugin registrations and
// coordinates evaluation, guarded by a RWMutex since registrations are rare
// (user/API initiated) and evaluation reads are short and synchronous.
type Manager struct {
	mu           sync.RWMutex
	plugins      map[string]*pluginEntry
	order        []string // registration order, for deterministic iteration
	fallbackMode model.InverterOperationMode
	logger       *log.Logger
}

// NewManager creates a Manager with SelfUse as the fallback mode.
func NewManager(logger *log.Logger) *Manager {
	return &Manager{
		plugins:      make(map[string]*pluginEntry),
		fallbackMode: model.SelfUse,
		logger:       logger,
	}
}

func (m *Manager) SetFallbackMode(mode model.InverterOperationMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbackMode = mode
}

// Register inserts a plugin under its name, replacing any prior registration
// of the same name.
func (m *Manager) Register(p Plugin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := p.Name()
	if _, exists := m.plugins[name]; !exists {
		m.order = append(m.order, name)
	}
	m.plugins[name] = &pluginEntry{plugin: p, enabled: true}
	if m.logger != nil {
		m.logger.Printf("[plugin] registered %q (priority %d)", name, p.Priority())
	}
}

// SetEnabled enables/disables a registration by name. Reports whether it
// existed.
func (m *Manager) SetEnabled(name string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.plugins[name]
	if !ok {
		return false
	}
	e.enabled = enabled
	return true
}

// SetPriority overrides the priority of a registration by name. Reports
// whether it existed.
func (m *Manager) SetPriority(name string, priority uint8) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.plugins[name]
	if !ok {
		return false
	}
	e.priorityOverride = &priority
	return true
}

// PluginInfo is a snapshot of one registration, for status reporting.
type PluginInfo struct {
	Name     string
	Priority uint8
	Enabled  bool
}

// ListPlugins returns a snapshot of every registration in registration order.
func (m *Manager) ListPlugins() []PluginInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PluginInfo, 0, len(m.order))
	for _, name := range m.order {
		e := m.plugins[name]
		out = append(out, PluginInfo{
			Name:     name,
			Priority: e.effectivePriority(),
			Enabled:  e.enabled && e.plugin.IsEnabled(),
		})
	}
	return out
}

// EvaluateAll calls every enabled, registered plugin and returns the
// decisions of those that succeeded. Failures are logged and contribute no
// decision.
func (m *Manager) EvaluateAll(req EvaluationRequest) []BlockDecision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var decisions []BlockDecision
	for _, name := range m.order {
		e := m.plugins[name]
		if !e.enabled || !e.plugin.IsEnabled() {
			continue
		}
		decision, err := e.plugin.Evaluate(req)
		if err != nil {
			if m.logger != nil {
				m.logger.Printf("[plugin] %q failed evaluation: %v", name, err)
			}
			continue
		}
		if e.priorityOverride != nil {
			decision.Priority = *e.priorityOverride
		}
		decisions = append(decisions, decision)
	}
	return decisions
}

// fallbackSentinel is the decision returned when no decisions are available
// to merge.
func (m *Manager) fallbackSentinel(req EvaluationRequest) BlockDecision {
	strategyName := "Fallback"
	uid := "fallback:no_plugins"
	return BlockDecision{
		BlockStart:      req.Block.BlockStart,
		DurationMinutes: req.Block.DurationMinutes,
		Mode:            m.fallbackMode,
		Reason:          "No strategy plugins available",
		Priority:        0,
		StrategyName:    &strategyName,
		DecisionUID:     &uid,
	}
}

// MergeDecisions picks the winning decision by priority (desc), then
// confidence (desc, nil = 0.0), then expected profit (desc, nil = 0.0). If
// decisions is empty, returns the fallback sentinel.
func (m *Manager) MergeDecisions(decisions []BlockDecision, req EvaluationRequest) BlockDecision {
	if len(decisions) == 0 {
		return m.fallbackSentinel(req)
	}

	sorted := make([]BlockDecision, len(decisions))
	copy(sorted, decisions)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		aConf, bConf := floatOrZero(a.Confidence), floatOrZero(b.Confidence)
		if aConf != bConf {
			return aConf > bConf
		}
		aProfit, bProfit := floatOrZero(a.ExpectedProfitCZK), floatOrZero(b.ExpectedProfitCZK)
		return aProfit > bProfit
	})
	return sorted[0]
}

func floatOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// Evaluate composes EvaluateAll with MergeDecisions.
func (m *Manager) Evaluate(req EvaluationRequest) BlockDecision {
	decisions := m.EvaluateAll(req)
	return m.MergeDecisions(decisions, req)
}
