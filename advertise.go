package host

import (
	"errors"

	"github.com/go-ble/host/internal/hci"
)

// MaxADPayload is the largest an advertising or scan-response payload may
// be (§5, supplemented from the BLE AD structure format).
const MaxADPayload = 31

// ErrADPayloadTooLong reports advertising data that does not fit into
// MaxADPayload bytes. The AdvertiseConfig encoder does not return it: it
// shortens the local name and drops service UUIDs that do not fit.
var ErrADPayloadTooLong = errors.New("host: advertising data too long")

// AD structure type octets (Bluetooth Assigned Numbers), restricted to the
// subset the teacher's advPacket/serviceAdvertisingPacket produced: flags,
// local name and 16-/128-bit service UUID lists. Anything else (TX power,
// manufacturer data, service data, ...) is out of scope for this host.
const (
	adTypeFlags        = 0x01
	adTypeSomeUUID16   = 0x02
	adTypeAllUUID16    = 0x03
	adTypeSomeUUID128  = 0x06
	adTypeAllUUID128   = 0x07
	adTypeShortName    = 0x08
	adTypeCompleteName = 0x09
)

const (
	adFlagLimitedDiscoverable = 0x01
	adFlagGeneralDiscoverable = 0x02
	adFlagLEOnly              = 0x04
)

// UUID is a 16- or 128-bit Bluetooth UUID, stored little-endian the way it
// goes out over the air (the reverse of its canonical string form).
type UUID struct {
	b []byte
}

// UUID16 builds a 16-bit Bluetooth SIG UUID.
func UUID16(v uint16) UUID {
	return UUID{b: []byte{byte(v), byte(v >> 8)}}
}

// MustUUID128 builds a 128-bit UUID from 16 little-endian bytes. It panics
// if b is not 16 bytes long, mirroring callers that only ever pass a
// compile-time literal.
func MustUUID128(b []byte) UUID {
	if len(b) != 16 {
		panic("host: UUID128 requires 16 bytes")
	}
	cp := make([]byte, 16)
	copy(cp, b)
	return UUID{b: cp}
}

// Len reports the UUID's width in bytes: 2 or 16.
func (u UUID) Len() int { return len(u.b) }

// Bytes returns the little-endian wire encoding of u.
func (u UUID) Bytes() []byte { return u.b }

// Equal reports whether u and v name the same UUID.
func (u UUID) Equal(v UUID) bool {
	if len(u.b) != len(v.b) {
		return false
	}
	for i := range u.b {
		if u.b[i] != v.b[i] {
			return false
		}
	}
	return true
}

// adPacket accumulates AD structures into an advertising or scan-response
// payload, refusing fields that would overflow MaxADPayload. Grounded on
// the teacher's advPacket/appendField/appendUUIDFit.
type adPacket struct {
	data []byte
}

func (p *adPacket) fits(n int) bool { return len(p.data)+n <= MaxADPayload }

func (p *adPacket) appendField(typ byte, data []byte) bool {
	if !p.fits(2 + len(data)) {
		return false
	}
	p.data = append(p.data, byte(len(data)+1), typ)
	p.data = append(p.data, data...)
	return true
}

func (p *adPacket) appendFlags(f byte) bool {
	return p.appendField(adTypeFlags, []byte{f})
}

func (p *adPacket) appendName(name string) bool {
	typ := byte(adTypeCompleteName)
	if !p.fits(2 + len(name)) {
		max := MaxADPayload - len(p.data) - 2
		if max <= 0 {
			return false
		}
		name = name[:max]
		typ = adTypeShortName
	}
	return p.appendField(typ, []byte(name))
}

// appendUUIDFit appends u using the "some UUIDs available" type, the same
// conservative choice the teacher makes rather than claiming completeness.
func (p *adPacket) appendUUIDFit(u UUID) bool {
	switch u.Len() {
	case 2:
		return p.appendField(adTypeSomeUUID16, u.Bytes())
	case 16:
		return p.appendField(adTypeSomeUUID128, u.Bytes())
	default:
		return false
	}
}

// AdvertiseConfig describes a legacy LE advertising set (§5 supplemented
// feature: AdvertiseConfig/advertise()).
type AdvertiseConfig struct {
	// IntervalMin/IntervalMax are in units of 0.625ms, as HCI expects.
	IntervalMin uint16
	IntervalMax uint16
	Connectable bool
	LocalName   string
	Services    []UUID
	// ScanResponseName, if non-empty, is carried in a separate scan
	// response payload instead of the primary advertising payload.
	ScanResponseName string
}

// encodeAD renders cfg's advertising payload, dropping (not erroring on)
// service UUIDs that don't fit, exactly as the teacher's
// serviceAdvertisingPacket does; the caller can inspect the returned
// included count against len(cfg.Services) if it cares.
func (cfg AdvertiseConfig) encodeAD() (adv []byte, scanResp []byte, included int) {
	p := new(adPacket)
	flags := byte(adFlagLEOnly)
	if cfg.Connectable {
		flags |= adFlagGeneralDiscoverable
	}
	p.appendFlags(flags)
	if cfg.LocalName != "" {
		p.appendName(cfg.LocalName)
	}
	for _, u := range cfg.Services {
		if p.appendUUIDFit(u) {
			included++
		}
	}
	adv = p.data

	if cfg.ScanResponseName != "" {
		sp := new(adPacket)
		sp.appendName(cfg.ScanResponseName)
		scanResp = sp.data
	}
	return adv, scanResp, included
}

// advertiseCommands translates cfg into the HCI command sequence the
// teacher's hci.advertiseEIR issued by hand: set parameters, set data,
// enable. The event loop issues these via its Driver synchronously before
// returning control to the caller of Adapter.Advertise.
func (cfg AdvertiseConfig) advertiseCommands() []hci.Command {
	adv, scanResp, _ := cfg.encodeAD()

	advType := byte(0x03) // ADV_NONCONN_IND
	if cfg.Connectable {
		advType = 0x00 // ADV_IND
	}

	cmds := []hci.Command{
		hci.LeSetAdvParams{
			IntervalMin: cfg.IntervalMin,
			IntervalMax: cfg.IntervalMax,
			AdvType:     advType,
			ChannelMap:  0x07,
		},
		newAdvData(adv),
	}
	if len(scanResp) > 0 {
		cmds = append(cmds, newScanRespData(scanResp))
	}
	cmds = append(cmds, hci.LeSetAdvEnable{Enable: true})
	return cmds
}

// newAdvData packs adv into the HCI fixed 31-byte advertising data field.
func newAdvData(adv []byte) hci.LeSetAdvData {
	var cmd hci.LeSetAdvData
	cmd.Length = uint8(len(adv))
	copy(cmd.Data[:], adv)
	return cmd
}

func newScanRespData(data []byte) hci.LeSetScanRespData {
	var cmd hci.LeSetScanRespData
	cmd.Length = uint8(len(data))
	copy(cmd.Data[:], data)
	return cmd
}

// stopAdvertiseCommand disables advertising.
func stopAdvertiseCommand() hci.Command {
	return hci.LeSetAdvEnable{Enable: false}
}

// ScanConfig describes a passive or active LE scan (§5 supplemented, for
// symmetry with AdvertiseConfig; scan results surface through
// Adapter.Advertisements).
type ScanConfig struct {
	Interval uint16
	Window   uint16
	Active   bool
}

func (cfg ScanConfig) scanCommands() []hci.Command {
	scanType := byte(0x00)
	if cfg.Active {
		scanType = 0x01
	}
	return []hci.Command{
		hci.LeSetScanParams{ScanType: scanType, Interval: cfg.Interval, Window: cfg.Window},
		hci.LeSetScanEnable{Enable: true},
	}
}

func stopScanCommand() hci.Command {
	return hci.LeSetScanEnable{Enable: false}
}

// Advertisement is a parsed LE advertising report (§5), the public
// counterpart to hci.LEAdvertisingReportEvent.
type Advertisement struct {
	Address     [6]byte
	AddressType uint8
	RSSI        int8
	LocalName   string
	Services    []UUID
}

// parseAdvertisement decodes AD structures out of a report payload,
// covering the same subset encodeAD produces (local name, UUID lists);
// unrecognized types are skipped rather than rejected, matching the
// teacher's Advertisement.Unmarshall default case.
func parseAdvertisement(b []byte) Advertisement {
	var a Advertisement
	for len(b) > 1 {
		l := int(b[0])
		if l == 0 || len(b) < 1+l {
			break
		}
		typ := b[1]
		d := b[2 : 1+l]
		switch typ {
		case adTypeShortName, adTypeCompleteName:
			a.LocalName = string(d)
		case adTypeSomeUUID16, adTypeAllUUID16:
			for i := 0; i+2 <= len(d); i += 2 {
				a.Services = append(a.Services, UUID{b: append([]byte(nil), d[i:i+2]...)})
			}
		case adTypeSomeUUID128, adTypeAllUUID128:
			for i := 0; i+16 <= len(d); i += 16 {
				a.Services = append(a.Services, UUID{b: append([]byte(nil), d[i:i+16]...)})
			}
		}
		b = b[1+l:]
	}
	return a
}
