package gree

import (
	"encoding/json"
	"maps"
	"math"
	"slices"
	"time"
)

// Params is a set of appliance parameters keyed by protocol name
// (Pow, Mod, SetTem, ...). Values are integer codes on the device side and
// human readable strings for enumerated fields on the MQTT side.
type Params map[string]any

// LastSeenField is stamped on every decoded state and excluded from
// change detection.
const LastSeenField = "last_seen"

// LastSeenLayout formats LastSeenField as UTC ISO-8601 with milliseconds.
const LastSeenLayout = "2006-01-02T15:04:05.000Z"

// sensorOffset is subtracted from the raw TemSen reading.
const sensorOffset = 40

// DefaultTrackedParams are requested on every status poll.
var DefaultTrackedParams = []string{
	"Pow", "Mod", "SetTem", "TemUn", "WdSpd", "Air", "Blo", "Health", "SwhSlp",
	"Lig", "SwingLfRig", "SwUpDn", "Quiet", "Tur", "StHt", "HeatCoolType",
	"TemRec", "SvSt", "TemSen",
}

var onOff = map[int]string{0: "off", 1: "on"}

// fromDeviceTables maps device codes to human values per parameter.
var fromDeviceTables = map[string]map[int]string{
	"Mod":   {0: "auto", 1: "cool", 2: "dry", 3: "fan_only", 4: "heat"},
	"TemUn": {0: "celsius", 1: "fahrenheit"},
	"WdSpd": {0: "auto", 1: "low", 2: "medium-low", 3: "medium", 4: "medium-high", 5: "high"},
	"SwingLfRig": {
		0: "default", 1: "full_swing", 2: "fixed_leftmost", 3: "fixed_middle_left",
		4: "fixed_middle", 5: "fixed_middle_right", 6: "fixed_rightmost",
	},
	"SwUpDn": {
		0: "default", 1: "full_swing", 2: "fixed_upmost", 3: "fixed_middle_up",
		4: "fixed_middle", 5: "fixed_middle_low", 6: "fixed_lowest", 7: "swing_downmost",
		8: "swing_middle_low", 9: "swing_middle", 10: "swing_middle_up", 11: "swing_upmost",
	},
	"Pow":    onOff,
	"Air":    onOff,
	"Blo":    onOff,
	"Health": onOff,
	"SwhSlp": onOff,
	"Lig":    onOff,
	"Quiet":  onOff,
	"Tur":    onOff,
	"StHt":   onOff,
}

// toDeviceTables is the inverse of fromDeviceTables.
var toDeviceTables = invertTables(fromDeviceTables)

func invertTables(in map[string]map[int]string) map[string]map[string]int {
	out := make(map[string]map[string]int, len(in))
	for name, table := range in {
		inv := make(map[string]int, len(table))
		for code, human := range table {
			inv[human] = code
		}
		out[name] = inv
	}
	return out
}

// ToDevice converts human values to device codes.
// Unknown keys and values outside the tables pass through unchanged.
func ToDevice(p Params) Params {
	out := make(Params, len(p))
	for k, v := range p {
		if table, ok := toDeviceTables[k]; ok {
			if s, ok := v.(string); ok {
				if code, ok := table[s]; ok {
					out[k] = code
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}

// FromDevice converts device codes to human values, applies the sensor
// offset to TemSen when SetTem is also present, and stamps LastSeenField.
func FromDevice(p Params, now time.Time) Params {
	out := make(Params, len(p)+1)
	for k, v := range p {
		if table, ok := fromDeviceTables[k]; ok {
			if code, ok := asInt(v); ok {
				if human, ok := table[code]; ok {
					out[k] = human
					continue
				}
			}
		}
		out[k] = v
	}

	if _, ok := p["SetTem"]; ok {
		if raw, ok := asFloat(p["TemSen"]); ok {
			out["TemSen"] = normaliseNumber(raw - sensorOffset)
		}
	}

	out[LastSeenField] = now.UTC().Format(LastSeenLayout)
	return out
}

// Stable returns a copy without volatile fields, for change detection.
func (p Params) Stable() Params {
	out := maps.Clone(p)
	delete(out, LastSeenField)
	return out
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	return slices.Sorted(maps.Keys(p))
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func normaliseNumber(f float64) any {
	if f == math.Trunc(f) {
		return int(f)
	}
	return f
}
