package strategy

// economics.go holds the pure arithmetic behind strategy decisions.

// BatteryDegradationCost is the wear cost of cycling energyKWh through the
// battery.
func BatteryDegradationCost(energyKWh, wearCostPerKWh float64) float64 {
	return energyKWh * wearCostPerKWh
}

// EfficiencyLoss is the energy lost to round-trip inefficiency for a given
// input.
func EfficiencyLoss(energyKWh, efficiency float64) float64 {
	return energyKWh * (1 - efficiency)
}

// GridImportCost is the cost of importing energyKWh at pricePerKWh.
func GridImportCost(energyKWh, pricePerKWh float64) float64 {
	return energyKWh * pricePerKWh
}

// GridExportRevenue is the revenue from exporting energyKWh at pricePerKWh.
func GridExportRevenue(energyKWh, pricePerKWh float64) float64 {
	return energyKWh * pricePerKWh
}

// SolarOpportunityCost estimates the cost of storing solar energy instead of
// exporting it immediately: the immediate export revenue forgone, net of
// what might be recovered by exporting the stored (and efficiency-reduced)
// energy later at the same price.
func SolarOpportunityCost(solarKWh, currentExportPrice, efficiency float64) float64 {
	immediateRevenue := solarKWh * currentExportPrice
	futureExportable := solarKWh * efficiency
	return immediateRevenue - futureExportable*currentExportPrice
}
