package decode

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/ttn-convert/cmd/ttn-convert/subcmd"
	"github.com/temoto/ttn-convert/helpers/cli"
	"github.com/temoto/ttn-convert/internal/catalog"
	"github.com/temoto/ttn-convert/internal/codec"
	"github.com/temoto/ttn-convert/internal/convert"
	"github.com/temoto/ttn-convert/internal/counter"
	"github.com/temoto/ttn-convert/internal/envelope"
	"github.com/temoto/ttn-convert/internal/packet"
	"github.com/temoto/ttn-convert/log2"
)

const modName = "decode"

var Mod = subcmd.Mod{
	Name:  modName,
	Usage: "decode [port hex]... or lines of 'port hex' / uplink JSON / converted JSON from stdin",
	Main:  Main,
}

func Main(ctx context.Context, env *subcmd.Env) error {
	d := newDecoder(env.Log, os.Stdout)
	if len(env.Args) != 0 {
		if len(env.Args)%2 != 0 {
			return errors.NotValidf("decode args must be port hex pairs, got %d", len(env.Args))
		}
		for i := 0; i < len(env.Args); i += 2 {
			d.line(env.Args[i] + " " + env.Args[i+1])
		}
		return nil
	}
	return cli.MainLoop(modName, os.Stdin, d.line, nil)
}

type decoder struct {
	log  *log2.Log
	w    io.Writer
	conv *convert.Converter
}

// One tracker for the whole session, so repeated uplinks of a node behave like in service.
func newDecoder(log *log2.Log, w io.Writer) *decoder {
	return &decoder{
		log:  log,
		w:    w,
		conv: convert.New(log, counter.NewTracker(1), nil),
	}
}

func (self *decoder) line(line string) {
	var err error
	if strings.HasPrefix(line, "{") {
		err = self.json([]byte(line))
	} else {
		err = self.raw(line)
	}
	if err != nil {
		self.log.Errorf("decode line=%q err=%v", line, err)
	}
}

func (self *decoder) raw(line string) error {
	parts := strings.Fields(line)
	if len(parts) != 2 {
		return errors.NotValidf("expected 'port hex'")
	}
	port, err := strconv.Atoi(parts[0])
	if err != nil {
		return errors.Annotate(err, "port")
	}
	h := parts[1]
	// mosquitto_sub wrongly strips leading zero in hex format
	if len(h)%2 == 1 {
		h = "0" + h
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return errors.Annotate(err, "hex")
	}
	p, err := packet.Decode(port, b)
	if err != nil {
		return err
	}
	fmt.Fprintln(self.w, p.Format())
	for _, r := range catalog.Records(p.Config) {
		fmt.Fprintf(self.w, "config %s\n", r.String())
	}
	return self.diag("data", p.Data)
}

// json accepts TTN uplink (converted as by run) or already converted message.
func (self *decoder) json(b []byte) error {
	e, err := envelope.Parse(b)
	if err != nil {
		return err
	}
	switch e.Port {
	case envelope.ConfigPort, envelope.DataPort:
		return self.printConverted(b)
	}
	msgs, err := self.conv.Convert(b)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Fprintf(self.w, "%s %s\n", m.Kind, m.Bytes)
		if err = self.printConverted(m.Bytes); err != nil {
			return err
		}
	}
	return nil
}

func (self *decoder) printConverted(b []byte) error {
	e, err := envelope.Parse(b)
	if err != nil {
		return err
	}
	if e.Port == envelope.ConfigPort {
		var records []catalog.Record
		if err = codec.Unmarshal(e.Payload, &records); err != nil {
			return errors.Annotate(err, "config payload")
		}
		for _, r := range records {
			fmt.Fprintf(self.w, "config %s\n", catalog.Expand(r).String())
		}
		return nil
	}
	d, err := codec.Diagnose(e.Payload)
	if err != nil {
		return errors.Annotate(err, "cbor diagnose")
	}
	fmt.Fprintf(self.w, "data %s\n", d)
	return nil
}

func (self *decoder) diag(tag string, v interface{}) error {
	b, err := codec.Marshal(v)
	if err != nil {
		return errors.Annotatef(err, "%s encode", tag)
	}
	d, err := codec.Diagnose(b)
	if err != nil {
		return errors.Annotatef(err, "%s diagnose", tag)
	}
	fmt.Fprintf(self.w, "%s %s\n", tag, d)
	return nil
}
