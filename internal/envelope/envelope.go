// Package envelope parses TTN uplink JSON messages and produces converted
// messages of the same shape.
package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/ttn-convert/internal/codec"
	"github.com/temoto/ttn-convert/internal/counter"
)

const (
	ConfigPort = 1
	DataPort   = 2
)

var ErrInvalidEnvelope = errors.New("invalid envelope")

var jsonNull = []byte("null")

const (
	fieldAppID      = "app_id"
	fieldDevID      = "dev_id"
	fieldPort       = "port"
	fieldCounter    = "counter"
	fieldPayloadRaw = "payload_raw"
)

// Envelope keeps every inbound field so output differs only in port and
// payload_raw.
type Envelope struct {
	AppID   string
	DevID   string
	Port    int
	Counter counter.FrameCounter
	Payload []byte

	fields map[string]json.RawMessage
}

func Parse(b []byte) (*Envelope, error) {
	e := &Envelope{}
	if err := json.Unmarshal(b, &e.fields); err != nil {
		return nil, errors.Annotatef(ErrInvalidEnvelope, "json: %v", err)
	}
	if e.fields == nil {
		return nil, errors.Annotatef(ErrInvalidEnvelope, "json: not an object")
	}
	var payloadRaw string
	for _, x := range []struct {
		name string
		ptr  interface{}
	}{
		{fieldAppID, &e.AppID},
		{fieldDevID, &e.DevID},
		{fieldPort, &e.Port},
		{fieldCounter, &e.Counter},
		{fieldPayloadRaw, &payloadRaw},
	} {
		raw, ok := e.fields[x.name]
		if !ok {
			return nil, errors.Annotatef(ErrInvalidEnvelope, "missing %s", x.name)
		}
		// json null into scalar is a silent no-op, would pass as zero value
		if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
			return nil, errors.Annotatef(ErrInvalidEnvelope, "null %s", x.name)
		}
		if err := json.Unmarshal(raw, x.ptr); err != nil {
			return nil, errors.Annotatef(ErrInvalidEnvelope, "field %s=%s: %v", x.name, raw, err)
		}
	}
	if e.AppID == "" || e.DevID == "" {
		return nil, errors.Annotatef(ErrInvalidEnvelope, "empty app_id=%q or dev_id=%q", e.AppID, e.DevID)
	}
	var err error
	if e.Payload, err = base64.StdEncoding.DecodeString(payloadRaw); err != nil {
		return nil, errors.Annotatef(ErrInvalidEnvelope, "payload_raw base64: %v", err)
	}
	return e, nil
}

func (self *Envelope) NodeID() counter.NodeID {
	return counter.NodeID(fmt.Sprintf("ttn/%s/%s", self.AppID, self.DevID))
}

func (self *Envelope) String() string {
	return fmt.Sprintf("%s port=%d counter=%d payload=%x", self.NodeID(), self.Port, self.Counter, self.Payload)
}

// Emit returns the envelope JSON with port replaced and payload_raw set to
// base64 of deterministic CBOR of payload. Does not modify self.
func (self *Envelope) Emit(payload interface{}, port int) ([]byte, error) {
	cb, err := codec.Marshal(payload)
	if err != nil {
		return nil, errors.Annotate(err, "emit cbor")
	}
	out := make(map[string]json.RawMessage, len(self.fields))
	for k, v := range self.fields {
		out[k] = v
	}
	if out[fieldPort], err = json.Marshal(port); err != nil {
		return nil, errors.Annotate(err, "emit port")
	}
	if out[fieldPayloadRaw], err = json.Marshal(base64.StdEncoding.EncodeToString(cb)); err != nil {
		return nil, errors.Annotate(err, "emit payload_raw")
	}
	b, err := json.Marshal(out)
	return b, errors.Annotate(err, "emit json")
}

// DecodePayload is the consumer side of Emit, used by tests and the decode
// command.
func DecodePayload(b []byte, v interface{}) (*Envelope, error) {
	e, err := Parse(b)
	if err != nil {
		return nil, err
	}
	return e, errors.Annotate(codec.Unmarshal(e.Payload, v), "payload cbor")
}
