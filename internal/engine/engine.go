// Package engine is the composition root: it wires config, ingest workers,
// the plugin manager, the schedule generator, the execution supervisor, the
// inverter driver registry, and the optional persistence/status layers into
// one running system.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/devskill-org/energy-management-system/internal/config"
	"github.com/devskill-org/energy-management-system/internal/execsupervisor"
	"github.com/devskill-org/energy-management-system/internal/homeautomation"
	"github.com/devskill-org/energy-management-system/internal/ingest"
	"github.com/devskill-org/energy-management-system/internal/inverterdriver"
	"github.com/devskill-org/energy-management-system/internal/model"
	"github.com/devskill-org/energy-management-system/internal/persistence"
	"github.com/devskill-org/energy-management-system/internal/plugin"
	"github.com/devskill-org/energy-management-system/internal/priceapi"
	"github.com/devskill-org/energy-management-system/internal/schedulegen"
	"github.com/devskill-org/energy-management-system/internal/strategy"
	"github.com/devskill-org/energy-management-system/meteo"
)

// Engine is the running decision system: one instance per process.
type Engine struct {
	cfg *config.Config

	store      *ingest.Store
	manager    *plugin.Manager
	generator  *schedulegen.Generator
	supervisor *execsupervisor.Supervisor
	registry   *inverterdriver.Registry
	cmdWriter  *inverterdriver.AsyncCommandWriter
	persist    *persistence.Store
	status     *StatusServer
	haClient   *homeautomation.Client

	logger *log.Logger

	// Update channels: writes from the web API are routed through these and
	// applied at the head of a decision tick, so mutations only ever happen
	// at tick boundaries.
	configUpdates      chan *config.Config
	userControlUpdates chan model.UserControlState
	ucStore            *persistence.UserControlStore
	configPath         string

	mu              sync.RWMutex
	userControl     model.UserControlState
	currentSchedule model.OperationSchedule
	running         bool
	stopChan        chan struct{}
}

// New builds an Engine from cfg. Inverter transports are wired according to
// which of InverterModbusAddress/MQTTBrokerURL are configured; neither being
// set leaves the registry empty, which is valid for a dry-run/backtest-only
// deployment.
func New(cfg *config.Config, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.Default()
	}

	var haClient *homeautomation.Client
	if cfg.HomeAssistantBaseURL != "" {
		haClient = homeautomation.NewClient(cfg.HomeAssistantBaseURL, cfg.HomeAssistantToken)
	}

	registry := inverterdriver.NewRegistry()

	// One driver instance per transport, shared by every inverter that
	// declares (or defaults to) that transport.
	drivers := map[string]inverterdriver.Driver{}
	driverFor := func(kind string) inverterdriver.Driver {
		if d, ok := drivers[kind]; ok {
			return d
		}
		var d inverterdriver.Driver
		switch kind {
		case "mqtt":
			if cfg.MQTTBrokerURL != "" {
				md, err := inverterdriver.NewMQTTDriver(cfg.MQTTBrokerURL, cfg.HomeAssistantInverterPrefix, 30*time.Second)
				if err != nil {
					logger.Printf("[engine] mqtt driver unavailable: %v", err)
				} else {
					d = md
				}
			}
		case "home_assistant":
			if haClient != nil {
				d = inverterdriver.NewHomeAssistantDriver(haClient, cfg.HomeAssistantInverterPrefix, nil)
			} else {
				logger.Printf("[engine] inverter transport home_assistant but home_assistant_base_url is empty")
			}
		default:
			if cfg.InverterModbusAddress != "" {
				md, err := inverterdriver.NewModbusDriver(cfg.InverterModbusAddress)
				if err != nil {
					logger.Printf("[engine] modbus driver unavailable: %v", err)
				} else {
					d = md
				}
			}
		}
		drivers[kind] = d
		return d
	}

	if len(cfg.Inverters) > 0 {
		for _, inv := range cfg.Inverters {
			kind := inv.Type
			if kind == "" {
				kind = cfg.InverterControlMode
			}
			if d := driverFor(kind); d != nil {
				registry.Add(inv.ID, d)
			} else {
				logger.Printf("[engine] inverter %s: no %s transport available", inv.ID, kind)
			}
		}
	} else if d := driverFor(cfg.InverterControlMode); d != nil {
		registry.Add("plant", d)
	}

	persist, err := persistence.Open(cfg.PostgresConnString)
	if err != nil {
		return nil, err
	}

	manager := plugin.NewManager(logger)
	manager.SetFallbackMode(cfg.DefaultIdleMode)
	registerStrategies(manager, cfg)

	cmdWriter := inverterdriver.NewAsyncCommandWriter(registry, 32, logger)

	ucStore := persistence.NewUserControlStore(cfg.UserControlStatePath)
	userControl, err := ucStore.Load(time.Now().UTC())
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		store:      ingest.NewStore(),
		manager:    manager,
		generator:  schedulegen.NewGenerator(manager),
		supervisor: execsupervisor.NewSupervisor(cmdWriter, execsupervisor.Config{
			MinModeChangeInterval: time.Duration(cfg.MinModeChangeIntervalSecs) * time.Second,
			DebugMode:             cfg.DebugModeNoHardwareWrites,
			MaxBatterySOC:         cfg.MaxBatterySOC,
			MinBatterySOC:         cfg.MinBatterySOC,
			DefaultIdleMode:       cfg.DefaultIdleMode,
		}, logger),
		registry:           registry,
		cmdWriter:          cmdWriter,
		persist:            persist,
		haClient:           haClient,
		logger:             logger,
		configUpdates:      make(chan *config.Config, 4),
		userControlUpdates: make(chan model.UserControlState, 4),
		ucStore:            ucStore,
		userControl:        userControl,
		stopChan:           make(chan struct{}),
	}
	e.status = NewStatusServer(e, cfg.HealthCheckPort)
	cmdWriter.OnResult(e.supervisor.RecordCommandResult)

	if len(cfg.Inverters) > 0 {
		for _, inv := range cfg.Inverters {
			e.supervisor.RegisterInverter(inv.ID, inv.ControlTopology())
		}
	} else {
		for _, id := range registry.InverterIDs() {
			e.supervisor.RegisterInverter(id, model.InverterControlTopology{Kind: model.TopologyIndependent})
		}
	}

	return e, nil
}

// registerStrategies wires every enabled EconomicStrategy into the plugin
// manager behind a StrategyAdapter, priority ordering the more specific
// strategies above the general-purpose self-use fallback.
func registerStrategies(manager *plugin.Manager, cfg *config.Config) {
	ctrl := cfg.StrategyControlConfig()

	if cfg.WinterAdaptiveEnabled {
		manager.Register(plugin.NewStrategyAdapter(strategy.NewWinterAdaptiveStrategy(true), 100, ctrl))
	}
	if cfg.DayAheadPlanningEnabled {
		manager.Register(plugin.NewStrategyAdapter(strategy.NewDayAheadChargePlanningStrategy(true), 80, ctrl))
	}
	if cfg.MorningPreChargeEnabled {
		manager.Register(plugin.NewStrategyAdapter(strategy.NewMorningPreChargeStrategy(true), 60, ctrl))
	}
	if cfg.SelfUseEnabled {
		manager.Register(plugin.NewStrategyAdapter(strategy.NewSelfUseStrategy(), 10, ctrl))
	}
}

// Run starts every background worker and the decision tick loop, blocking
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	if err := e.persist.EnsureSchema(ctx); err != nil {
		e.logger.Printf("[engine] persistence schema setup failed, continuing without: %v", err)
	}

	loc, err := time.LoadLocation(e.cfg.Location)
	if err != nil {
		loc = time.UTC
	}

	var priceSource priceapi.Source
	if e.cfg.PriceSource == "home_assistant" && e.haClient != nil {
		priceSource = priceapi.NewHomeAssistantSource(e.haClient, e.cfg.HomeAssistantPriceEntityID, loc)
	} else {
		priceSource = priceapi.NewENTSOESource(e.cfg.PriceAPIURLFormat, e.cfg.PriceAPISecurityToken, loc, e.cfg.PriceAPITimeout)
	}
	priceWorker := ingest.NewPriceWorker(e.store, priceSource, e.cfg.DistributionFeeCZKPerKWh, e.logger)
	inverterWorker := ingest.NewInverterWorker(e.registry, e.store, e.logger)
	historyWorker := ingest.NewHistoryWorker(e.store)
	backupSOCWorker := ingest.NewBackupSOCWorker(e.haClient, e.store, e.cfg.BackupDischargeMinSOCEntityID, e.logger)

	var forecastSource ingest.SolarForecastSource
	if e.cfg.WeatherForecastEnabled {
		forecastSource = ingest.NewMeteoForecastSource(
			e.cfg.WeatherForecastUserAgent,
			meteo.Location{Latitude: e.cfg.Latitude, Longitude: e.cfg.Longitude},
			e.cfg.SolarPeakPowerKW,
			e.logger,
		)
	}
	solarWorker := ingest.NewSolarForecastWorker(e.store, forecastSource, e.cfg.Latitude, e.cfg.Longitude, e.cfg.SolarPeakPowerKW, e.logger)

	var wg sync.WaitGroup
	tasks := []ingest.PeriodicTask{
		priceWorker.Task(e.cfg.PriceIngestInterval),
		inverterWorker.Task(e.cfg.InverterPollInterval),
		historyWorker.Task(),
		solarWorker.Task(e.cfg.SolarForecastInterval),
		backupSOCWorker.Task(e.cfg.BackupSOCPollInterval),
	}
	for _, t := range tasks {
		wg.Add(1)
		t := t
		go func() {
			defer wg.Done()
			t.Run(ctx, e.stopChan, e.logger)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.cmdWriter.Run(ctx)
	}()

	if e.status != nil {
		if err := e.status.Start(); err != nil {
			e.logger.Printf("[engine] status server failed to start: %v", err)
		}
	}

	e.decisionLoop(ctx)
	wg.Wait()
	return nil
}

// decisionLoop is the tick-driven core: at DecisionTickInterval cadence it
// regenerates the schedule whenever a newer price snapshot has arrived or a
// config/user-control update was applied, then runs one execution-supervisor
// pass.
func (e *Engine) decisionLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.DecisionTickInterval)
	defer ticker.Stop()

	lastPriceVersion := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case now := <-ticker.C:
			updated := e.drainUpdates()

			prices := e.store.Prices()
			if updated || prices.FetchedAt.After(lastPriceVersion) {
				e.regenerateSchedule(now)
				lastPriceVersion = prices.FetchedAt
			}

			schedule := e.Schedule()
			if len(schedule.ScheduledBlocks) == 0 {
				continue
			}

			for _, id := range e.registry.InverterIDs() {
				if state, ok := e.store.InverterState(id); ok {
					e.supervisor.UpdateTelemetry(id, state)
				}
			}
			e.supervisor.SetUserControl(e.UserControl())
			e.supervisor.Tick(&schedule, now)
		}
	}
}

// drainUpdates applies every pending config and user-control update, and
// reports whether anything changed. Only ever called from the decision loop,
// so mutations land at tick boundaries.
func (e *Engine) drainUpdates() bool {
	changed := false
	for {
		select {
		case uc := <-e.userControlUpdates:
			e.mu.Lock()
			e.userControl = uc
			e.mu.Unlock()
			changed = true
		case cfg := <-e.configUpdates:
			e.applyConfigNow(cfg)
			changed = true
		default:
			return changed
		}
	}
}

// applyConfigNow swaps the active configuration and pushes the new tunables
// into the supervisor and strategy registrations.
func (e *Engine) applyConfigNow(cfg *config.Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()

	e.supervisor.UpdateConfig(execsupervisor.Config{
		MinModeChangeInterval: time.Duration(cfg.MinModeChangeIntervalSecs) * time.Second,
		DebugMode:             cfg.DebugModeNoHardwareWrites,
		MaxBatterySOC:         cfg.MaxBatterySOC,
		MinBatterySOC:         cfg.MinBatterySOC,
		DefaultIdleMode:       cfg.DefaultIdleMode,
	})

	e.manager.SetFallbackMode(cfg.DefaultIdleMode)
	registerStrategies(e.manager, cfg)
	for name, enabled := range map[string]bool{
		"Winter-Adaptive":    cfg.WinterAdaptiveEnabled,
		"Day-Ahead-Planning": cfg.DayAheadPlanningEnabled,
		"Morning-Pre-Charge": cfg.MorningPreChargeEnabled,
		"Self-Use":           cfg.SelfUseEnabled,
	} {
		e.manager.SetEnabled(name, enabled)
	}

	e.logger.Printf("[engine] configuration v%d applied (modified by %s)", cfg.Metadata.Version, cfg.Metadata.ModifiedBy)
}

// regenerateSchedule rebuilds the current OperationSchedule from the latest
// ingested snapshots and stores it for the decision loop and status server.
func (e *Engine) regenerateSchedule(now time.Time) {
	prices := e.store.Prices()
	if len(prices.Blocks) == 0 {
		return
	}

	// Average the SOC across online inverters.
	var currentSOC float64
	online := 0
	for _, st := range e.store.InverterStates() {
		if !st.Online {
			continue
		}
		currentSOC += st.BatterySOCPercent
		online++
	}
	if online > 0 {
		currentSOC /= float64(online)
	}

	input := schedulegen.GenerateInput{
		Prices:                        prices,
		Config:                        e.cfg,
		CurrentBatterySOCPercent:      currentSOC,
		HardwareMinSOCPercent:         e.cfg.HardwareMinBatterySOC,
		BackupDischargeMinSOC:         e.store.BackupMinSOC(),
		ConsumptionTodayKWh:           e.store.ConsumptionTodayKWh(),
		GridImportTodayKWh:            e.store.GridImportTodayKWh(),
		SolarForecastKWh:              e.store.SolarForecast(),
		DefaultConsumptionForecastKWh: e.store.ConsumptionEMA(7, 0.3) / 96.0,
		GridExportPriceCZKPerKWh:      e.cfg.GridExportPriceThresholdCZKPerKWh,
		UserControl:                   e.UserControl(),
		DefaultIdleMode:               e.cfg.DefaultIdleMode,
		Now:                           now,
	}

	schedule := e.generator.Generate(input)

	e.mu.Lock()
	e.currentSchedule = schedule
	e.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.persist.SaveSchedule(ctx, schedule); err != nil {
			e.logger.Printf("[engine] persisting schedule failed: %v", err)
		}
	}()
}

// Schedule returns the current OperationSchedule.
func (e *Engine) Schedule() model.OperationSchedule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentSchedule
}

// UserControl returns the current user-control overlay.
func (e *Engine) UserControl() model.UserControlState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.userControl
}

// SetUserControl replaces the user-control overlay.
func (e *Engine) SetUserControl(uc model.UserControlState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userControl = uc
}

// ApplyUserControl validates, persists, and enqueues a user-control update;
// the decision loop applies it in memory at the next tick boundary.
func (e *Engine) ApplyUserControl(uc model.UserControlState) error {
	if err := uc.Validate(); err != nil {
		return err
	}
	uc.LastModified = time.Now().UTC()
	if err := e.ucStore.Save(uc); err != nil {
		return err
	}
	select {
	case e.userControlUpdates <- uc:
	default:
		// Channel full: fold into the latest pending update by applying
		// directly; the decision loop regenerates on the next price change.
		e.SetUserControl(uc)
	}
	return nil
}

// ApplyConfig persists an already-validated configuration and enqueues it
// for the decision loop to apply at the next tick boundary.
func (e *Engine) ApplyConfig(cfg *config.Config) error {
	if e.configPath != "" {
		if err := cfg.SaveConfig(e.configPath); err != nil {
			return err
		}
	}
	select {
	case e.configUpdates <- cfg:
	default:
		e.logger.Printf("[engine] config update queue full, dropping update v%d", cfg.Metadata.Version)
	}
	return nil
}

// Config returns the active configuration snapshot.
func (e *Engine) Config() *config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SetConfigPath records where accepted config updates are persisted; empty
// (the default) keeps updates in memory only.
func (e *Engine) SetConfigPath(path string) {
	e.configPath = path
}

// Stop signals every background worker and the decision loop to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	close(e.stopChan)
	e.running = false
}
