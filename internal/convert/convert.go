// Package convert turns one TTN uplink into at most one configuration
// message followed by exactly one data message.
//
// Per packet: received -> decoded -> config check -> [config emitted] -> data emitted,
// or received -> failed. Failed packets are logged and dropped, never retried,
// and do not touch the counter tracker.
package convert

import (
	"fmt"
	"runtime/debug"

	"github.com/juju/errors"
	"github.com/temoto/ttn-convert/internal/catalog"
	"github.com/temoto/ttn-convert/internal/counter"
	"github.com/temoto/ttn-convert/internal/envelope"
	"github.com/temoto/ttn-convert/internal/metrics"
	"github.com/temoto/ttn-convert/internal/packet"
	"github.com/temoto/ttn-convert/log2"
)

const (
	KindConfig = "config"
	KindData   = "data"
)

type Message struct {
	Kind  string
	Port  int
	Bytes []byte
}

type Converter struct {
	log     *log2.Log
	tracker *counter.Tracker
	metrics *metrics.Collector
}

// New panics on nil tracker. log and m may be nil.
func New(log *log2.Log, tracker *counter.Tracker, m *metrics.Collector) *Converter {
	if tracker == nil {
		panic("code error convert.New tracker=nil")
	}
	return &Converter{log: log, tracker: tracker, metrics: m}
}

func (self *Converter) Tracker() *counter.Tracker { return self.tracker }

// Convert returns config (optional) then data message.
func (self *Converter) Convert(raw []byte) ([]Message, error) {
	e, err := envelope.Parse(raw)
	if err != nil {
		return nil, err
	}
	p, err := packet.Decode(e.Port, e.Payload)
	if err != nil {
		return nil, errors.Annotatef(err, "node=%s counter=%d", e.NodeID(), e.Counter)
	}
	self.metrics.Variant(p.Variant.String())
	self.log.Debugf("decoded node=%s counter=%d %s", e.NodeID(), e.Counter, p.Format())

	msgs := make([]Message, 0, 2)
	if self.tracker.ShouldEmitConfig(e.NodeID(), e.Counter) {
		records := catalog.Records(p.Config)
		self.log.Debugf("config node=%s before compact %v", e.NodeID(), records)
		for i := range records {
			records[i] = catalog.Compact(records[i])
		}
		self.log.Debugf("config node=%s after compact %v", e.NodeID(), records)
		b, err := e.Emit(records, envelope.ConfigPort)
		if err != nil {
			return nil, errors.Annotatef(err, "node=%s config", e.NodeID())
		}
		msgs = append(msgs, Message{Kind: KindConfig, Port: envelope.ConfigPort, Bytes: b})
	}

	b, err := e.Emit(p.Data, envelope.DataPort)
	if err != nil {
		return nil, errors.Annotatef(err, "node=%s data", e.NodeID())
	}
	msgs = append(msgs, Message{Kind: KindData, Port: envelope.DataPort, Bytes: b})
	return msgs, nil
}

// Handle is the per-packet failure boundary for the receive loop:
// errors and panics are logged and counted, never propagated.
func (self *Converter) Handle(raw []byte) (msgs []Message) {
	defer func() {
		if x := recover(); x != nil {
			self.log.Errorf("CRITICAL convert panic=%v raw=%q\n%s", x, raw, debug.Stack())
			self.metrics.Packet(metrics.ResultInternal)
			msgs = nil
		}
	}()

	msgs, err := self.Convert(raw)
	if err != nil {
		result := classify(err)
		switch result {
		case metrics.ResultOverrun, metrics.ResultInternal:
			self.log.Errorf("drop packet err=%s raw=%q", errors.ErrorStack(err), raw)
		default:
			self.log.Warningf("drop packet err=%v", err)
		}
		self.metrics.Packet(result)
		return nil
	}
	self.metrics.Packet(metrics.ResultOK)
	for _, m := range msgs {
		self.metrics.Message(m.Kind)
	}
	return msgs
}

func classify(err error) string {
	switch errors.Cause(err) {
	case envelope.ErrInvalidEnvelope:
		return metrics.ResultInvalidEnvelope
	case packet.ErrUnknownPort:
		return metrics.ResultUnknownPort
	case packet.ErrInvalidLength:
		return metrics.ResultInvalidLength
	case packet.ErrDecodeOverrun:
		return metrics.ResultOverrun
	}
	return metrics.ResultInternal
}

func (self Message) String() string {
	return fmt.Sprintf("%s port=%d %s", self.Kind, self.Port, self.Bytes)
}
