package catalog

import "fmt"

type ChannelID uint8

const (
	ChannelPosition    ChannelID = 0
	ChannelTemperature ChannelID = 1
	ChannelHumidity    ChannelID = 2
	ChannelSupply      ChannelID = 3
	ChannelBattery     ChannelID = 4
	ChannelLux         ChannelID = 5
	ChannelPM25        ChannelID = 6
	ChannelPM10        ChannelID = 7
	ChannelExtra       ChannelID = 8
)

type ItemType string

const (
	ItemNode    ItemType = "node"
	ItemChannel ItemType = "channel"
)

type Quantity string

const (
	QuantityNone              Quantity = ""
	QuantityTemperature       Quantity = "temperature"
	QuantityHumidity          Quantity = "humidity"
	QuantityVoltage           Quantity = "voltage"
	QuantityAmbientLight      Quantity = "ambient_light"
	QuantityParticulateMatter Quantity = "particulate_matter"
	QuantityPosition          Quantity = "position"
)

type Unit string

const (
	UnitNone              Unit = ""
	UnitDegreesCelsius    Unit = "degrees_celsius"
	UnitPercentRH         Unit = "percent_rh"
	UnitVolt              Unit = "volt"
	UnitMicrogramPerCubic Unit = "ug_per_cubic_meter"
	UnitLux               Unit = "lux"
	UnitDegrees           Unit = "degrees"
)

// Descriptor is one entry of a configuration message, either *NodeConfig
// or *ChannelConfig.
type Descriptor interface {
	ItemType() ItemType
	Record() Record
}

type NodeConfig struct {
	FirmwareVersion uint8
	HasFirmware     bool
}

func (*NodeConfig) ItemType() ItemType { return ItemNode }

func (self *NodeConfig) Record() Record {
	r := Record{{KeyItemType, string(ItemNode)}}
	if self.HasFirmware {
		r = append(r, Field{KeyFirmwareVersion, uint(self.FirmwareVersion)})
	}
	return r
}

// ChannelConfig describes what a channel measures and how to scale raw
// readings: physical = raw/Divider + Offset.
// Quantity/Unit/Sensor/Measured are absent when empty.
type ChannelConfig struct {
	ID       ChannelID
	Quantity Quantity
	Unit     Unit
	Sensor   string
	Measured string

	Divider         int
	HasDivider      bool
	Offset          int
	HasOffset       bool
	MeasuredSize    float64
	HasMeasuredSize bool
}

func (*ChannelConfig) ItemType() ItemType { return ItemChannel }

func (self *ChannelConfig) Record() Record {
	r := make(Record, 0, 9)
	r = append(r, Field{KeyItemType, string(ItemChannel)}, Field{KeyChannelID, uint(self.ID)})
	if self.Quantity != QuantityNone {
		r = append(r, Field{KeyQuantity, string(self.Quantity)})
	}
	if self.Unit != UnitNone {
		r = append(r, Field{KeyUnit, string(self.Unit)})
	}
	if self.Sensor != "" {
		r = append(r, Field{KeySensor, self.Sensor})
	}
	if self.Measured != "" {
		r = append(r, Field{KeyMeasured, self.Measured})
	}
	if self.HasMeasuredSize {
		r = append(r, Field{KeyMeasuredSize, sizeValue(self.MeasuredSize)})
	}
	if self.HasDivider {
		r = append(r, Field{KeyDivider, self.Divider})
	}
	if self.HasOffset {
		r = append(r, Field{KeyOffset, self.Offset})
	}
	return r
}

// sizeValue keeps whole sizes integer on the wire, 10 not 10.0.
func sizeValue(x float64) interface{} {
	if x >= 0 && x == float64(uint(x)) {
		return uint(x)
	}
	return x
}

func (self *ChannelConfig) String() string {
	return fmt.Sprintf("channel(%d %s %s)", self.ID, self.Quantity, self.Unit)
}

// Records converts descriptors in order.
func Records(ds []Descriptor) []Record {
	rs := make([]Record, len(ds))
	for i, d := range ds {
		rs[i] = d.Record()
	}
	return rs
}
