package convert

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/ttn-convert/internal/catalog"
	"github.com/temoto/ttn-convert/internal/counter"
	"github.com/temoto/ttn-convert/internal/envelope"
	"github.com/temoto/ttn-convert/internal/metrics"
	"github.com/temoto/ttn-convert/log2"
)

type wireReading struct {
	ChannelID uint8       `cbor:"channel_id"`
	Value     interface{} `cbor:"value"`
}

func uplink(dev string, port int, fcnt int64, payload []byte) []byte {
	return []byte(fmt.Sprintf(`{"app_id":"meetstations","dev_id":%q,"port":%d,"counter":%d,"payload_raw":%q,"metadata":{"time":"2026-10-17T10:00:00Z"}}`,
		dev, port, fcnt, base64.StdEncoding.EncodeToString(payload)))
}

var legacyPayload = []byte{0x00, 0x00, 0x01, 0xff, 0xff, 0xff, 0x06, 0x41, 0x90}

func newTestConverter(t testing.TB) (*Converter, *metrics.Collector) {
	m := metrics.New(nil)
	return New(log2.NewTest(t, log2.LDebug), counter.NewTracker(0), m), m
}

func TestConvertScenario(t *testing.T) {
	t.Parallel()

	c, _ := newTestConverter(t)
	msgs, err := c.Convert(uplink("node-1", 10, 5, legacyPayload))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, KindConfig, msgs[0].Kind)
	assert.Equal(t, envelope.ConfigPort, msgs[0].Port)
	assert.Equal(t, KindData, msgs[1].Kind)
	assert.Equal(t, envelope.DataPort, msgs[1].Port)

	var data []wireReading
	e, err := envelope.DecodePayload(msgs[1].Bytes, &data)
	require.NoError(t, err)
	assert.Equal(t, envelope.DataPort, e.Port)
	assert.Equal(t, counter.FrameCounter(5), e.Counter)
	assert.Equal(t, []wireReading{
		{0, []interface{}{uint64(1), int64(-1)}},
		{1, uint64(100)},
		{2, uint64(400)},
	}, data)

	var config []catalog.Record
	e, err = envelope.DecodePayload(msgs[0].Bytes, &config)
	require.NoError(t, err)
	assert.Equal(t, envelope.ConfigPort, e.Port)
	require.Len(t, config, 4)
	expect := []map[interface{}]interface{}{
		{catalog.KeyItemType: "node"},
		{catalog.KeyItemType: "channel", catalog.KeyChannelID: uint64(0), catalog.KeyQuantity: "position",
			catalog.KeyUnit: "degrees", catalog.KeyDivider: uint64(32768)},
		{catalog.KeyItemType: "channel", catalog.KeyChannelID: uint64(1), catalog.KeyQuantity: "temperature",
			catalog.KeyUnit: "degrees_celsius", catalog.KeyDivider: uint64(16)},
		{catalog.KeyItemType: "channel", catalog.KeyChannelID: uint64(2), catalog.KeyQuantity: "humidity",
			catalog.KeyUnit: "percent_rh", catalog.KeyDivider: uint64(16)},
	}
	for i, r := range config {
		// on the wire everything known is compacted
		for _, f := range r {
			_, isCode := f.Key.(uint)
			assert.True(t, isCode, "record=%v key=%v", r, f.Key)
		}
		assert.Equal(t, expect[i], catalog.Expand(r).Map())
	}
}

func TestConvertConfigOnReboot(t *testing.T) {
	t.Parallel()

	c, _ := newTestConverter(t)
	kinds := func(dev string, fcnt int64) []string {
		msgs := c.Handle(uplink(dev, 10, fcnt, legacyPayload))
		ks := make([]string, len(msgs))
		for i, m := range msgs {
			ks[i] = m.Kind
		}
		return ks
	}
	assert.Equal(t, []string{KindConfig, KindData}, kinds("a", 50))
	assert.Equal(t, []string{KindData}, kinds("a", 51))
	assert.Equal(t, []string{KindData}, kinds("a", 51))
	assert.Equal(t, []string{KindConfig, KindData}, kinds("b", 1))
	assert.Equal(t, []string{KindConfig, KindData}, kinds("a", 3))
	assert.Equal(t, []string{KindData}, kinds("a", 4))
	assert.Equal(t, 2, c.Tracker().Len())
}

func TestConvertDropped(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		input  []byte
		result string
	}{
		{"garbage", []byte("not json"), metrics.ResultInvalidEnvelope},
		{"missing", []byte(`{"app_id":"x"}`), metrics.ResultInvalidEnvelope},
		{"null-counter", []byte(`{"app_id":"a","dev_id":"d","port":10,"counter":null,"payload_raw":"AAAB////BkGQ"}`), metrics.ResultInvalidEnvelope},
		{"null-port", []byte(`{"app_id":"a","dev_id":"d","port":null,"counter":1,"payload_raw":"AAAB////BkGQ"}`), metrics.ResultInvalidEnvelope},
		{"null-payload", []byte(`{"app_id":"a","dev_id":"d","port":10,"counter":1,"payload_raw":null}`), metrics.ResultInvalidEnvelope},
		{"unknown-port", uplink("d", 99, 1, legacyPayload), metrics.ResultUnknownPort},
		{"invalid-length", uplink("d", 10, 1, legacyPayload[:8]), metrics.ResultInvalidLength},
		{"overrun", uplink("d", 13, 1, []byte{0xff, 0x01}), metrics.ResultOverrun},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			conv, _ := newTestConverter(t)
			assert.Nil(t, conv.Handle(c.input))
			_, err := conv.Convert(c.input)
			assert.Equal(t, c.result, classify(err))
			assert.Equal(t, 0, conv.Tracker().Len(), "failed packet must not touch tracker")
		})
	}
}

func TestConvertDroppedDoesNotHideReboot(t *testing.T) {
	t.Parallel()

	c, _ := newTestConverter(t)
	require.Len(t, c.Handle(uplink("a", 10, 50, legacyPayload)), 2)
	assert.Nil(t, c.Handle(uplink("a", 10, 3, legacyPayload[:5])))
	last, _ := c.Tracker().Last("ttn/meetstations/a")
	assert.Equal(t, counter.FrameCounter(50), last)
	require.Len(t, c.Handle(uplink("a", 10, 4, legacyPayload)), 2)
}

func TestConvertNullCounterKeepsState(t *testing.T) {
	t.Parallel()

	c, _ := newTestConverter(t)
	require.Len(t, c.Handle(uplink("a", 10, 50, legacyPayload)), 2)
	assert.Nil(t, c.Handle([]byte(`{"app_id":"meetstations","dev_id":"a","port":10,"counter":null,"payload_raw":"AAAB////BkGQ"}`)))
	last, ok := c.Tracker().Last("ttn/meetstations/a")
	require.True(t, ok)
	assert.Equal(t, counter.FrameCounter(50), last)
	// next regular uplink is data only
	require.Len(t, c.Handle(uplink("a", 10, 51, legacyPayload)), 1)
}
