// Package packet decodes sensor node uplink payloads.
//
// Layout is selected by LoRaWAN port and payload length (ports 10-12) or by a
// leading flag byte (port 13). Fields are read as a MSB-first bit stream:
//
//	[flags:8 (13)] [firmware:8 (11-13)] lat:24 lon:24 temp:12 hum:12
//	[supply:8] [lux:16] [pm2.5:16 pm10:16] [battery:8] [extra...]
package packet

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/ttn-convert/internal/catalog"
)

var (
	ErrUnknownPort   = errors.New("unknown port")
	ErrInvalidLength = errors.New("invalid length")
	ErrDecodeOverrun = errors.New("decode overrun")
)

type Variant uint8

const (
	VariantInvalid  Variant = iota
	VariantLegacy           // port 10, no firmware version
	VariantFirmware         // port 11
	VariantLux              // port 12
	VariantFlagged          // port 13, optional fields gated by flag bits
)

func (v Variant) String() string {
	switch v {
	case VariantInvalid:
		return "invalid"
	case VariantLegacy:
		return "legacy"
	case VariantFirmware:
		return "firmware"
	case VariantLux:
		return "lux"
	case VariantFlagged:
		return "flagged"
	}
	return fmt.Sprintf("Variant(%d)", uint8(v))
}

func (v Variant) Port() int {
	switch v {
	case VariantLegacy:
		return 10
	case VariantFirmware:
		return 11
	case VariantLux:
		return 12
	case VariantFlagged:
		return 13
	case VariantInvalid:
	}
	return 0
}

func VariantByPort(port int) (Variant, error) {
	switch port {
	case 10:
		return VariantLegacy, nil
	case 11:
		return VariantFirmware, nil
	case 12:
		return VariantLux, nil
	case 13:
		return VariantFlagged, nil
	}
	return VariantInvalid, errors.Annotatef(ErrUnknownPort, "port=%d", port)
}

// Layout lists optional fields present in one packet.
type Layout struct {
	Firmware   bool
	Supply     bool
	Lux        bool
	PM         bool
	Battery    bool
	Extra      bool
	LuxDivider int
}

var lengthLayouts = map[Variant]map[int]Layout{
	VariantLegacy: {
		9:  {},
		10: {Supply: true},
		11: {Supply: true, Battery: true},
	},
	VariantFirmware: {
		11: {Firmware: true, Supply: true},
		12: {Firmware: true, Supply: true, Battery: true},
		15: {Firmware: true, Supply: true, PM: true},
		16: {Firmware: true, Supply: true, PM: true, Battery: true},
	},
	VariantLux: {
		13: {Firmware: true, Supply: true, Lux: true, LuxDivider: 1},
		14: {Firmware: true, Supply: true, Lux: true, LuxDivider: 1, Battery: true},
		17: {Firmware: true, Supply: true, Lux: true, LuxDivider: 1, PM: true},
		18: {Firmware: true, Supply: true, Lux: true, LuxDivider: 1, PM: true, Battery: true},
	},
}

const flaggedLuxDivider = 4

// layout may consume flag bits from r.
func (v Variant) layout(length int, r *BitReader) (Layout, error) {
	switch v {
	case VariantLegacy, VariantFirmware, VariantLux:
		l, ok := lengthLayouts[v][length]
		if !ok {
			return Layout{}, errors.Annotatef(ErrInvalidLength, "port=%d length=%d", v.Port(), length)
		}
		return l, nil

	case VariantFlagged:
		l := Layout{Firmware: true, Supply: true, LuxDivider: flaggedLuxDivider}
		var err error
		if l.Lux, err = r.Bool(); err != nil {
			return l, errors.Annotate(err, "flag lux")
		}
		if l.PM, err = r.Bool(); err != nil {
			return l, errors.Annotate(err, "flag pm")
		}
		if l.Battery, err = r.Bool(); err != nil {
			return l, errors.Annotate(err, "flag battery")
		}
		if err = r.Skip(4); err != nil {
			return l, errors.Annotate(err, "flag unused")
		}
		if l.Extra, err = r.Bool(); err != nil {
			return l, errors.Annotate(err, "flag extra")
		}
		return l, nil

	case VariantInvalid:
	}
	panic(fmt.Sprintf("code error layout variant=%s", v))
}

type Packet struct {
	Port    int
	Variant Variant
	Layout  Layout
	Config  []catalog.Descriptor
	Data    []Reading
}

func (self *Packet) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "port=%d variant=%s", self.Port, self.Variant)
	if node, ok := self.Config[0].(*catalog.NodeConfig); ok && node.HasFirmware {
		fmt.Fprintf(&sb, " firmware=%d", node.FirmwareVersion)
	}
	for _, r := range self.Data {
		sb.WriteString(" ")
		sb.WriteString(r.String())
	}
	return sb.String()
}

// Decode is a pure function of its input. Errors: ErrUnknownPort,
// ErrInvalidLength, ErrDecodeOverrun (check with errors.Cause).
func Decode(port int, payload []byte) (*Packet, error) {
	v, err := VariantByPort(port)
	if err != nil {
		return nil, err
	}
	r := NewBitReader(payload)
	l, err := v.layout(len(payload), r)
	if err != nil {
		return nil, err
	}
	p := &Packet{
		Port:    port,
		Variant: v,
		Layout:  l,
	}
	if err = p.read(r); err != nil {
		return nil, errors.Annotatef(err, "port=%d variant=%s length=%d", port, v, len(payload))
	}
	return p, nil
}

func (self *Packet) read(r *BitReader) error {
	l := &self.Layout
	node := &catalog.NodeConfig{}
	self.Config = append(make([]catalog.Descriptor, 0, 10), node, configPosition(), configTemperature(), configHumidity())
	self.Data = make([]Reading, 0, 9)

	if l.Firmware {
		fw, err := r.Uint(8)
		if err != nil {
			return errors.Annotate(err, "firmware")
		}
		node.FirmwareVersion, node.HasFirmware = uint8(fw), true
	}

	lat, err := r.Int(24)
	if err != nil {
		return errors.Annotate(err, "position")
	}
	lon, err := r.Int(24)
	if err != nil {
		return errors.Annotate(err, "position")
	}
	self.Data = append(self.Data, Reading{catalog.ChannelPosition, Position{lat, lon}})

	if err = self.readInt(r, catalog.ChannelTemperature, 12); err != nil {
		return errors.Annotate(err, "temperature")
	}
	if err = self.readInt(r, catalog.ChannelHumidity, 12); err != nil {
		return errors.Annotate(err, "humidity")
	}

	if l.Supply {
		self.Config = append(self.Config, configSupply())
		if err = self.readUint(r, catalog.ChannelSupply, 8); err != nil {
			return errors.Annotate(err, "supply")
		}
	}
	if l.Lux {
		self.Config = append(self.Config, configLux(l.LuxDivider))
		if err = self.readUint(r, catalog.ChannelLux, 16); err != nil {
			return errors.Annotate(err, "lux")
		}
	}
	if l.PM {
		self.Config = append(self.Config, configPM(catalog.ChannelPM25, 2.5))
		if err = self.readUint(r, catalog.ChannelPM25, 16); err != nil {
			return errors.Annotate(err, "pm2.5")
		}
		self.Config = append(self.Config, configPM(catalog.ChannelPM10, 10))
		if err = self.readUint(r, catalog.ChannelPM10, 16); err != nil {
			return errors.Annotate(err, "pm10")
		}
	}
	if l.Battery {
		self.Config = append(self.Config, configBattery())
		if err = self.readUint(r, catalog.ChannelBattery, 8); err != nil {
			return errors.Annotate(err, "battery")
		}
	}
	if l.Extra {
		self.Config = append(self.Config, &catalog.ChannelConfig{ID: catalog.ChannelExtra})
		self.Data = append(self.Data, Reading{catalog.ChannelExtra, readExtra(r)})
	}
	return nil
}

func (self *Packet) readInt(r *BitReader, id catalog.ChannelID, width int) error {
	x, err := r.Int(width)
	if err == nil {
		self.Data = append(self.Data, Reading{id, Scalar(x)})
	}
	return err
}

func (self *Packet) readUint(r *BitReader, id catalog.ChannelID, width int) error {
	x, err := r.Uint(width)
	if err == nil {
		self.Data = append(self.Data, Reading{id, Scalar(x)})
	}
	return err
}

const extraSizeBits = 5

// readExtra reads (size:5, value:size+1) pairs until the stream cannot hold
// another pair. Trailing bits are byte alignment padding from the encoder
// (expected all-ones, not verified) and are dropped. Zero padding of 5 or
// more bits would decode as one more value 0.
func readExtra(r *BitReader) Extra {
	values := make(Extra, 0, 4)
	for r.Remaining() >= extraSizeBits {
		size, err := r.Uint(extraSizeBits)
		if err != nil {
			break
		}
		width := int(size) + 1
		if r.Remaining() < width {
			break
		}
		v, err := r.Uint(width)
		if err != nil {
			break
		}
		values = append(values, v)
	}
	return values
}
