package catalog

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/ttn-convert/internal/codec"
)

func TestCodes(t *testing.T) {
	t.Parallel()

	for name, code := range map[string]uint{
		KeyChannelID: 1, KeyQuantity: 2, KeyUnit: 3, KeySensor: 4,
		KeyItemType: 5, KeyMeasured: 6, KeyDivider: 7,
	} {
		c, ok := KeyCode(name)
		assert.True(t, ok, name)
		assert.Equal(t, code, c, name)
		n, ok := KeyName(code)
		assert.True(t, ok)
		assert.Equal(t, name, n)
	}
	_, ok := KeyCode(KeyOffset)
	assert.False(t, ok)

	c, ok := ValueCode(KeyQuantity, "position")
	assert.True(t, ok)
	assert.Equal(t, uint(6), c)
	c, ok = ValueCode(KeyUnit, "degrees_celsius")
	assert.True(t, ok)
	assert.Equal(t, uint(1), c)
	n, ok := ValueName(KeyItemType, 2)
	assert.True(t, ok)
	assert.Equal(t, "channel", n)
	_, ok = ValueCode(KeyMeasured, "supply")
	assert.False(t, ok)
	assert.False(t, HasValueTable(KeyMeasured))
}

func TestCompact(t *testing.T) {
	t.Parallel()

	type Case struct {
		name   string
		input  Descriptor
		expect Record
	}
	cases := []Case{
		{"node", &NodeConfig{FirmwareVersion: 3, HasFirmware: true},
			Record{{uint(5), uint(1)}, {KeyFirmwareVersion, uint(3)}}},
		{"node-bare", &NodeConfig{},
			Record{{uint(5), uint(1)}}},
		{"supply", &ChannelConfig{ID: ChannelSupply, Quantity: QuantityVoltage, Unit: UnitVolt, Measured: "supply",
			Divider: 100, HasDivider: true, Offset: 1, HasOffset: true},
			Record{{uint(5), uint(2)}, {uint(1), uint(3)}, {uint(2), uint(3)}, {uint(3), uint(3)},
				{uint(6), "supply"}, {uint(7), 100}, {KeyOffset, 1}}},
		{"pm25", &ChannelConfig{ID: ChannelPM25, Quantity: QuantityParticulateMatter, Unit: UnitMicrogramPerCubic,
			MeasuredSize: 2.5, HasMeasuredSize: true},
			Record{{uint(5), uint(2)}, {uint(1), uint(6)}, {uint(2), uint(5)}, {uint(3), uint(4)},
				{KeyMeasuredSize, 2.5}}},
		{"pm10", &ChannelConfig{ID: ChannelPM10, Quantity: QuantityParticulateMatter, Unit: UnitMicrogramPerCubic,
			MeasuredSize: 10, HasMeasuredSize: true},
			Record{{uint(5), uint(2)}, {uint(1), uint(7)}, {uint(2), uint(5)}, {uint(3), uint(4)},
				{KeyMeasuredSize, uint(10)}}},
		{"sensor", &ChannelConfig{ID: ChannelTemperature, Quantity: QuantityTemperature, Sensor: "Si2701"},
			Record{{uint(5), uint(2)}, {uint(1), uint(1)}, {uint(2), uint(1)}, {uint(4), uint(1)}}},
		{"extra", &ChannelConfig{ID: ChannelExtra},
			Record{{uint(5), uint(2)}, {uint(1), uint(8)}}},
	}
	rand.New(rand.NewSource(time.Now().UnixNano())).Shuffle(len(cases), func(i int, j int) { cases[i], cases[j] = cases[j], cases[i] })
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			original := c.input.Record()
			compact := Compact(original)
			assert.Equal(t, c.expect, compact)
			assert.Equal(t, len(original), len(compact), "structure must not change")
			assert.Equal(t, original, Expand(compact))
		})
	}
}

func TestCompactUnknownPassThrough(t *testing.T) {
	t.Parallel()

	r := Record{{"colour", "blue"}, {KeyQuantity, "pressure"}, {KeyUnit, "lux"}}
	compact := Compact(r)
	assert.Equal(t, Record{{"colour", "blue"}, {uint(2), "pressure"}, {uint(3), uint(5)}}, compact)
	assert.Equal(t, r, Expand(compact))

	// decoder side: unknown integer codes stay integers
	assert.Equal(t, Record{{uint(99), uint64(1)}, {KeyQuantity, uint64(42)}},
		Expand(Record{{uint(99), uint64(1)}, {uint64(2), uint64(42)}}))
}

func TestRecordCBOR(t *testing.T) {
	t.Parallel()

	d := &ChannelConfig{ID: ChannelBattery, Quantity: QuantityVoltage, Unit: UnitVolt, Measured: "battery",
		Divider: 50, HasDivider: true, Offset: 1, HasOffset: true}
	b, err := codec.Marshal(Compact(d.Record()))
	require.NoError(t, err)
	var back Record
	require.NoError(t, codec.Unmarshal(b, &back))
	expanded := Expand(back)
	assert.Equal(t, Record{
		{KeyChannelID, uint64(4)},
		{KeyQuantity, "voltage"},
		{KeyUnit, "volt"},
		{KeyItemType, "channel"},
		{KeyMeasured, "battery"},
		{KeyDivider, uint64(50)},
		{KeyOffset, uint64(1)},
	}, expanded)

	// deterministic encoding
	b2, err := codec.Marshal(Compact(d.Record()))
	require.NoError(t, err)
	assert.Equal(t, b, b2)
}

func TestMeasuredSizeEncoding(t *testing.T) {
	t.Parallel()

	for _, c := range []struct {
		size   float64
		expect string
	}{
		{2.5, `"measured:size": 2.5}`},
		{10, `"measured:size": 10}`},
	} {
		cc := &ChannelConfig{ID: ChannelPM10, MeasuredSize: c.size, HasMeasuredSize: true}
		b, err := codec.Marshal(Compact(cc.Record()))
		require.NoError(t, err)
		d, err := codec.Diagnose(b)
		require.NoError(t, err)
		assert.Contains(t, d, c.expect)
	}
}
