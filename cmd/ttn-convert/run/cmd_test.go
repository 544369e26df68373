package run

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/temoto/ttn-convert/internal/convert"
	"github.com/temoto/ttn-convert/internal/counter"
	"github.com/temoto/ttn-convert/internal/envelope"
	"github.com/temoto/ttn-convert/log2"
)

type memAppender struct{ entries [][]byte }

func (self *memAppender) Append(payload []byte) error {
	self.entries = append(self.entries, payload)
	return nil
}

func TestUplinkHandler(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	out := &memAppender{}
	h := uplinkHandler(log, convert.New(log, counter.NewTracker(1), nil), out)
	up := func(fcnt int, payload []byte) []byte {
		return []byte(fmt.Sprintf(`{"app_id":"a","dev_id":"d","port":10,"counter":%d,"payload_raw":"%s"}`,
			fcnt, base64.StdEncoding.EncodeToString(payload)))
	}
	legacy := []byte{0x00, 0x00, 0x01, 0xff, 0xff, 0xff, 0x06, 0x41, 0x90}

	h("a/devices/d/up", up(7, legacy))
	h("a/devices/d/up", []byte("garbage"))
	h("a/devices/d/up", up(8, legacy))
	ports := make([]int, len(out.entries))
	for i, b := range out.entries {
		e, err := envelope.Parse(b)
		if assert.NoError(t, err) {
			ports[i] = e.Port
		}
	}
	assert.Equal(t, []int{envelope.ConfigPort, envelope.DataPort, envelope.DataPort}, ports)
}
