// Package catalog maps configuration keys and enumerated values to compact
// integer codes and back. Tables are part of the wire format: consumers hold
// the same copy, any change here breaks them.
package catalog

// Descriptor key names.
const (
	KeyChannelID       = "channel_id"
	KeyQuantity        = "quantity"
	KeyUnit            = "unit"
	KeySensor          = "sensor"
	KeyItemType        = "item_type"
	KeyMeasured        = "measured"
	KeyDivider         = "divider"
	KeyOffset          = "offset"
	KeyMeasuredSize    = "measured:size"
	KeyFirmwareVersion = "firmware_version"
)

var keyCodes = map[string]uint{
	KeyChannelID: 1,
	KeyQuantity:  2,
	KeyUnit:      3,
	KeySensor:    4,
	KeyItemType:  5,
	KeyMeasured:  6,
	KeyDivider:   7,
}

var valueCodes = map[string]map[string]uint{
	KeyQuantity: {
		string(QuantityTemperature):       1,
		string(QuantityHumidity):          2,
		string(QuantityVoltage):           3,
		string(QuantityAmbientLight):      4,
		string(QuantityParticulateMatter): 5,
		string(QuantityPosition):          6,
	},
	KeyUnit: {
		string(UnitDegreesCelsius):    1,
		string(UnitPercentRH):         2,
		string(UnitVolt):              3,
		string(UnitMicrogramPerCubic): 4,
		string(UnitLux):               5,
		string(UnitDegrees):           6,
	},
	KeySensor: {
		"Si2701": 1,
	},
	KeyItemType: {
		string(ItemNode):    1,
		string(ItemChannel): 2,
	},
}

var (
	keyNames   map[uint]string
	valueNames map[string]map[uint]string
)

func init() {
	keyNames = make(map[uint]string, len(keyCodes))
	for k, c := range keyCodes {
		if _, dup := keyNames[c]; dup {
			panic("code error catalog duplicate key code")
		}
		keyNames[c] = k
	}
	valueNames = make(map[string]map[uint]string, len(valueCodes))
	for k, table := range valueCodes {
		inv := make(map[uint]string, len(table))
		for v, c := range table {
			if _, dup := inv[c]; dup {
				panic("code error catalog duplicate value code key=" + k)
			}
			inv[c] = v
		}
		valueNames[k] = inv
	}
}

func KeyCode(name string) (uint, bool) {
	c, ok := keyCodes[name]
	return c, ok
}

func KeyName(code uint) (string, bool) {
	n, ok := keyNames[code]
	return n, ok
}

// HasValueTable reports whether values of key are enumerated.
func HasValueTable(key string) bool {
	_, ok := valueCodes[key]
	return ok
}

func ValueCode(key, value string) (uint, bool) {
	c, ok := valueCodes[key][value]
	return c, ok
}

func ValueName(key string, code uint) (string, bool) {
	n, ok := valueNames[key][code]
	return n, ok
}
