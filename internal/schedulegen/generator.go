// Package schedulegen builds an OperationSchedule for a price horizon: one
// plugin evaluation per 15-minute block, packed into contiguous runs,
// minimum-run enforced, and overlaid with the user control state.
package schedulegen

import (
	"fmt"
	"time"

	"github.com/devskill-org/energy-management-system/internal/config"
	"github.com/devskill-org/energy-management-system/internal/model"
	"github.com/devskill-org/energy-management-system/internal/plugin"
)

const blockDurationMinutes = 15

// GenerateInput bundles everything the generator needs to produce a fresh
// OperationSchedule for one price horizon.
type GenerateInput struct {
	Prices model.SpotPriceData
	Config *config.Config

	CurrentBatterySOCPercent float64
	HardwareMinSOCPercent    float64
	BackupDischargeMinSOC    *float64
	GridImportTodayKWh       float64
	ConsumptionTodayKWh      float64

	// SolarForecastKWh is indexed in parallel with Prices.Blocks; a shorter
	// slice (or nil) defaults missing entries to 0.
	SolarForecastKWh []float64
	// ConsumptionForecastKWh is indexed in parallel with Prices.Blocks. If
	// nil, DefaultConsumptionForecastKWh is used for every block (typically
	// the EMA of daily consumption divided by 96 blocks/day).
	ConsumptionForecastKWh        []float64
	DefaultConsumptionForecastKWh float64

	GridExportPriceCZKPerKWh float64
	UserControl              model.UserControlState
	DefaultIdleMode          model.InverterOperationMode
	Now                      time.Time
}

// Generator turns a price horizon and plugin evaluations into an
// OperationSchedule.
type Generator struct {
	manager *plugin.Manager
}

// NewGenerator builds a Generator that draws decisions from manager.
func NewGenerator(manager *plugin.Manager) *Generator {
	return &Generator{manager: manager}
}

func forecastAt(values []float64, idx int) float64 {
	if idx < len(values) {
		return values[idx]
	}
	return 0
}

// Generate runs one plugin evaluation per block in in.Prices, packs the
// results into runs, enforces the minimum-run policy, and overlays user
// control. The returned schedule's ScheduledBlocks are contiguous,
// non-overlapping, and cover exactly the input horizon.
func (g *Generator) Generate(in GenerateInput) model.OperationSchedule {
	blocks := in.Prices.Blocks
	decisions := make([]plugin.BlockDecision, len(blocks))
	debugInfos := make([]*model.BlockDebugInfo, len(blocks))

	for i, block := range blocks {
		consumption := in.DefaultConsumptionForecastKWh
		if in.ConsumptionForecastKWh != nil {
			consumption = forecastAt(in.ConsumptionForecastKWh, i)
		}

		req := plugin.EvaluationRequest{
			Block:     block,
			AllBlocks: blocks,
			Battery: plugin.Battery{
				CurrentSOCPercent:     in.CurrentBatterySOCPercent,
				HardwareMinSOCPercent: in.HardwareMinSOCPercent,
			},
			Forecast: plugin.Forecast{
				SolarKWh:                 forecastAt(in.SolarForecastKWh, i),
				ConsumptionKWh:           consumption,
				GridExportPriceCZKPerKWh: in.GridExportPriceCZKPerKWh,
			},
			Historical: plugin.Historical{
				GridImportTodayKWh:  in.GridImportTodayKWh,
				ConsumptionTodayKWh: in.ConsumptionTodayKWh,
			},
			BackupDischargeMinSOC: in.BackupDischargeMinSOC,
		}

		all := g.manager.EvaluateAll(req)
		winner := g.manager.MergeDecisions(all, req)
		decisions[i] = winner
		debugInfos[i] = buildDebugInfo(all, winner)
	}

	runs := packRuns(decisions, debugInfos)
	runs = enforceMinimumRun(runs, in.Config.MinConsecutiveForceBlocks, in.DefaultIdleMode)
	runs = applyUserControl(runs, in.UserControl, in.Now, in.DefaultIdleMode)

	return model.OperationSchedule{
		ScheduledBlocks:     runs,
		GeneratedAt:         in.Now,
		BasedOnPriceVersion: in.Prices.FetchedAt,
	}
}

func buildDebugInfo(all []plugin.BlockDecision, winner plugin.BlockDecision) *model.BlockDebugInfo {
	info := &model.BlockDebugInfo{}
	for _, d := range all {
		name := "unknown"
		if d.StrategyName != nil {
			name = *d.StrategyName
		}
		info.StrategiesEvaluated = append(info.StrategiesEvaluated, name)
		info.AllEvaluations = append(info.AllEvaluations, model.StrategyEvaluation{
			StrategyName:      name,
			Mode:              d.Mode,
			Reason:            d.Reason,
			Priority:          d.Priority,
			Confidence:        d.Confidence,
			ExpectedProfitCZK: d.ExpectedProfitCZK,
			Won:               sameDecisionUID(d.DecisionUID, winner.DecisionUID),
		})
	}
	if winner.StrategyName != nil {
		info.WinningStrategy = *winner.StrategyName
	}
	return info
}

func sameDecisionUID(a, b *string) bool {
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// packRuns merges adjacent blocks that share a mode into one ScheduledMode.
// TargetInverters is left nil (all inverters) throughout: this generator
// produces one decision stream shared by every independent/master inverter,
// not per-inverter decisions.
func packRuns(decisions []plugin.BlockDecision, debugInfos []*model.BlockDebugInfo) []model.ScheduledMode {
	var runs []model.ScheduledMode
	for i, d := range decisions {
		if len(runs) > 0 {
			last := &runs[len(runs)-1]
			if last.Mode == d.Mode && last.End().Equal(d.BlockStart) {
				last.DurationMinutes += d.DurationMinutes
				continue
			}
		}
		runs = append(runs, model.ScheduledMode{
			BlockStart:      d.BlockStart,
			DurationMinutes: d.DurationMinutes,
			Mode:            d.Mode,
			Reason:          d.Reason,
			DebugInfo:       debugInfos[i],
		})
	}
	return runs
}

// enforceMinimumRun downgrades ForceCharge/ForceDischarge runs shorter than
// minConsecutiveBlocks*15min to idleMode, then re-merges adjacent runs that
// now share a mode.
func enforceMinimumRun(runs []model.ScheduledMode, minConsecutiveBlocks int, idleMode model.InverterOperationMode) []model.ScheduledMode {
	minMinutes := minConsecutiveBlocks * blockDurationMinutes

	downgraded := make([]model.ScheduledMode, len(runs))
	copy(downgraded, runs)
	for i := range downgraded {
		isForceRun := downgraded[i].Mode == model.ForceCharge || downgraded[i].Mode == model.ForceDischarge
		if isForceRun && downgraded[i].DurationMinutes < minMinutes {
			downgraded[i].Mode = idleMode
			downgraded[i].Reason = fmt.Sprintf("downgraded to idle: run of %dmin below minimum %dmin (%s)",
				downgraded[i].DurationMinutes, minMinutes, downgraded[i].Reason)
			downgraded[i].DebugInfo = nil
		}
	}
	return mergeAdjacentSameMode(downgraded)
}

// applyUserControl prunes expired fixed slots, then overlays the user
// control state at 15-minute granularity: fixed slots win outright (bypass
// minimum-run and disallow checks), then the master enable switch, then
// per-mode disallow flags.
func applyUserControl(runs []model.ScheduledMode, uc model.UserControlState, now time.Time, idleMode model.InverterOperationMode) []model.ScheduledMode {
	// Prune on a copy of the slot list so the caller's state (and its slice
	// backing array) is never mutated by schedule generation.
	uc.FixedTimeSlots = append([]model.FixedTimeSlot(nil), uc.FixedTimeSlots...)
	uc.PruneExpiredSlots(now)

	var perBlock []model.ScheduledMode
	for _, r := range runs {
		perBlock = append(perBlock, explodeRun(r)...)
	}

	for i := range perBlock {
		b := &perBlock[i]
		if slot, ok := uc.SlotAt(b.BlockStart); ok {
			b.Mode = slot.Mode
			b.Reason = fmt.Sprintf("user override: fixed slot %q", slot.ID)
			b.DebugInfo = nil
			continue
		}
		if !uc.Enabled {
			b.Mode = idleMode
			b.Reason = "user control disabled: forced idle"
			b.DebugInfo = nil
			continue
		}
		if !uc.IsModeAllowed(b.Mode) {
			b.Reason = fmt.Sprintf("user control: mode disallowed, downgraded to idle (%s)", b.Reason)
			b.Mode = idleMode
			b.DebugInfo = nil
		}
	}

	return mergeAdjacentSameMode(perBlock)
}

func explodeRun(r model.ScheduledMode) []model.ScheduledMode {
	count := r.DurationMinutes / blockDurationMinutes
	if count <= 1 {
		return []model.ScheduledMode{r}
	}
	out := make([]model.ScheduledMode, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, model.ScheduledMode{
			BlockStart:      r.BlockStart.Add(time.Duration(i*blockDurationMinutes) * time.Minute),
			DurationMinutes: blockDurationMinutes,
			TargetInverters: r.TargetInverters,
			Mode:            r.Mode,
			Reason:          r.Reason,
			DebugInfo:       r.DebugInfo,
		})
	}
	return out
}

func mergeAdjacentSameMode(runs []model.ScheduledMode) []model.ScheduledMode {
	var merged []model.ScheduledMode
	for _, r := range runs {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if last.Mode == r.Mode && last.End().Equal(r.BlockStart) {
				last.DurationMinutes += r.DurationMinutes
				continue
			}
		}
		merged = append(merged, r)
	}
	return merged
}
