package packet

import (
	"fmt"

	"github.com/temoto/ttn-convert/internal/catalog"
)

// Value shape is fixed by channel: Position for channel 0, Extra for channel 8,
// Scalar otherwise.
type Value interface {
	isValue()
}

type Scalar int64
type Position [2]int64
type Extra []uint64

func (Scalar) isValue()   {}
func (Position) isValue() {}
func (Extra) isValue()    {}

type Reading struct {
	ChannelID catalog.ChannelID `cbor:"channel_id"`
	Value     Value             `cbor:"value"`
}

func (self Reading) String() string {
	return fmt.Sprintf("%d:%v", self.ChannelID, self.Value)
}

func configPosition() *catalog.ChannelConfig {
	return &catalog.ChannelConfig{
		ID:         catalog.ChannelPosition,
		Quantity:   catalog.QuantityPosition,
		Unit:       catalog.UnitDegrees,
		Divider:    32768,
		HasDivider: true,
	}
}

func configTemperature() *catalog.ChannelConfig {
	return &catalog.ChannelConfig{
		ID:         catalog.ChannelTemperature,
		Quantity:   catalog.QuantityTemperature,
		Unit:       catalog.UnitDegreesCelsius,
		Divider:    16,
		HasDivider: true,
	}
}

func configHumidity() *catalog.ChannelConfig {
	return &catalog.ChannelConfig{
		ID:         catalog.ChannelHumidity,
		Quantity:   catalog.QuantityHumidity,
		Unit:       catalog.UnitPercentRH,
		Divider:    16,
		HasDivider: true,
	}
}

func configSupply() *catalog.ChannelConfig {
	return &catalog.ChannelConfig{
		ID:         catalog.ChannelSupply,
		Quantity:   catalog.QuantityVoltage,
		Unit:       catalog.UnitVolt,
		Measured:   "supply",
		Divider:    100,
		HasDivider: true,
		Offset:     1,
		HasOffset:  true,
	}
}

func configBattery() *catalog.ChannelConfig {
	return &catalog.ChannelConfig{
		ID:         catalog.ChannelBattery,
		Quantity:   catalog.QuantityVoltage,
		Unit:       catalog.UnitVolt,
		Measured:   "battery",
		Divider:    50,
		HasDivider: true,
		Offset:     1,
		HasOffset:  true,
	}
}

func configLux(divider int) *catalog.ChannelConfig {
	return &catalog.ChannelConfig{
		ID:         catalog.ChannelLux,
		Quantity:   catalog.QuantityAmbientLight,
		Unit:       catalog.UnitLux,
		Divider:    divider,
		HasDivider: true,
	}
}

func configPM(id catalog.ChannelID, size float64) *catalog.ChannelConfig {
	return &catalog.ChannelConfig{
		ID:              id,
		Quantity:        catalog.QuantityParticulateMatter,
		Unit:            catalog.UnitMicrogramPerCubic,
		MeasuredSize:    size,
		HasMeasuredSize: true,
	}
}
