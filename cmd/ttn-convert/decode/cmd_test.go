package decode

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/temoto/ttn-convert/log2"
)

func TestDecodeLines(t *testing.T) {
	t.Parallel()

	legacy := []byte{0x00, 0x00, 0x01, 0xff, 0xff, 0xff, 0x06, 0x41, 0x90}
	uplink := fmt.Sprintf(`{"app_id":"a","dev_id":"d","port":10,"counter":1,"payload_raw":"%s"}`,
		base64.StdEncoding.EncodeToString(legacy))

	cases := []struct {
		name   string
		line   string
		expect []string
		absent []string
	}{
		{"raw", "10 000001ffffff064190", []string{
			"port=10 variant=legacy 0:[1 -1] 1:100 2:400\n",
			"config {item_type=node}\n",
			"config {item_type=channel channel_id=0 quantity=position unit=degrees divider=32768}\n",
			"data [",
		}, nil},
		{"raw-odd-hex", "10 00001ffffff064190", []string{"variant=legacy"}, nil},
		{"uplink", uplink, []string{
			`config {"app_id":"a"`,
			`data {"app_id":"a"`,
			"item_type=channel",
			"quantity=temperature",
			"unit=degrees_celsius",
		}, []string{"error"}},
		{"invalid-length", "10 0000", nil, []string{"variant"}},
		{"invalid-line", "hello", nil, []string{"variant"}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			d := newDecoder(log2.NewTest(t, log2.LDebug), &buf)
			d.line(c.line)
			out := buf.String()
			for _, s := range c.expect {
				assert.True(t, strings.Contains(out, s), "expected=%q output:\n%s", s, out)
			}
			for _, s := range c.absent {
				assert.False(t, strings.Contains(out, s), "unexpected=%q output:\n%s", s, out)
			}
		})
	}
}

func TestDecodeConvertedRoundTrip(t *testing.T) {
	t.Parallel()

	legacy := []byte{0x00, 0x00, 0x01, 0xff, 0xff, 0xff, 0x06, 0x41, 0x90}
	var first bytes.Buffer
	d := newDecoder(log2.NewTest(t, log2.LDebug), &first)
	msgs, err := d.conv.Convert([]byte(fmt.Sprintf(`{"app_id":"a","dev_id":"d","port":10,"counter":1,"payload_raw":"%s"}`,
		base64.StdEncoding.EncodeToString(legacy))))
	assert.NoError(t, err)
	for _, m := range msgs {
		d.line(string(m.Bytes))
	}
	out := first.String()
	assert.Equal(t, 4, strings.Count(out, "config {"), out)
	assert.Equal(t, 1, strings.Count(out, "data ["), out)
}
