package tuya

// detectPattern guesses a rule from the range of an unmapped numeric value.
type detectPattern struct {
	capability string
	min, max   float64
	divisor    float64
	minID      uint8
}

// detectPatterns are tried in order; the first whose range contains the value
// and whose capability the device declares wins.
var detectPatterns = []detectPattern{
	{capability: "measure_temperature", min: -400, max: 1000, divisor: 10},
	{capability: "measure_humidity", min: 0, max: 100},
	{capability: "measure_battery", min: 0, max: 100, minID: 10},
}

// AutoDetect proposes a rule for an unmapped datapoint from its value range.
//
// Only numeric datapoints are considered, and only patterns whose capability
// the store declares. The guess is cheap and frequently wrong for devices
// with several numeric datapoints, so endpoints use it only when enabled.
//
// Returns:
//   - Rule: Synthetic rule for the first matching pattern
//   - bool: false when nothing matches
func AutoDetect(report Report, store CapabilityStore) (Rule, bool) {
	if store == nil || report.Type != TypeValue {
		return Rule{}, false
	}
	v, ok := toFloat(report.Value)
	if !ok {
		return Rule{}, false
	}

	for _, p := range detectPatterns {
		if report.ID < p.minID || v < p.min || v > p.max {
			continue
		}
		if !store.HasCapability(p.capability) {
			continue
		}
		return Rule{Capability: p.capability, Divisor: p.divisor}, true
	}
	return Rule{}, false
}
