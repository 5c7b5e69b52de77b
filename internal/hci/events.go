package hci

import "encoding/binary"

// EventCode identifies an HCI event (§6); naming follows the teacher's
// linux/event.go table, trimmed to what this host acts on.
type EventCode uint8

const (
	EventDisconnectionComplete   EventCode = 0x05
	EventCommandComplete         EventCode = 0x0e
	EventCommandStatus           EventCode = 0x0f
	EventNumberOfCompletedPkts   EventCode = 0x13
	EventLEMeta                  EventCode = 0x3e
)

// LEEventCode identifies an LE Meta sub-event (§6).
type LEEventCode uint8

const (
	LEConnectionComplete   LEEventCode = 0x01
	LEAdvertisingReport    LEEventCode = 0x02
)

// ErrMalformedEvent is returned when an event is too short to parse.
type ErrMalformedEvent struct{ Code EventCode }

func (e ErrMalformedEvent) Error() string { return "hci: malformed event" }

// DisconnectionCompleteEvent is HCI_Disconnection_Complete.
type DisconnectionCompleteEvent struct {
	Status uint8
	Handle uint16
	Reason uint8
}

// DecodeDisconnectionComplete parses the event body (post event-header).
func DecodeDisconnectionComplete(b []byte) (DisconnectionCompleteEvent, error) {
	if len(b) < 4 {
		return DisconnectionCompleteEvent{}, ErrMalformedEvent{EventDisconnectionComplete}
	}
	return DisconnectionCompleteEvent{
		Status: b[0],
		Handle: binary.LittleEndian.Uint16(b[1:3]),
		Reason: b[3],
	}, nil
}

// LEConnectionCompleteEvent is the LE Meta LE_Connection_Complete sub-event.
type LEConnectionCompleteEvent struct {
	Status         uint8
	Handle         uint16
	Role           uint8
	PeerAddrType   uint8
	PeerAddr       [6]byte
	Interval       uint16
	Latency        uint16
	SupervisionTMO uint16
}

// DecodeLEConnectionComplete parses the sub-event body (post LE Meta
// sub-event code byte).
func DecodeLEConnectionComplete(b []byte) (LEConnectionCompleteEvent, error) {
	if len(b) < 18 {
		return LEConnectionCompleteEvent{}, ErrMalformedEvent{EventLEMeta}
	}
	var ev LEConnectionCompleteEvent
	ev.Status = b[0]
	ev.Handle = binary.LittleEndian.Uint16(b[1:3])
	ev.Role = b[3]
	ev.PeerAddrType = b[4]
	copy(ev.PeerAddr[:], b[5:11])
	ev.Interval = binary.LittleEndian.Uint16(b[11:13])
	ev.Latency = binary.LittleEndian.Uint16(b[13:15])
	ev.SupervisionTMO = binary.LittleEndian.Uint16(b[15:17])
	return ev, nil
}

// LEAdvertisingReportEvent is one report from the LE Meta
// LE_Advertising_Report sub-event (§4.E scanner report queue).
type LEAdvertisingReportEvent struct {
	EventType   uint8
	AddrType    uint8
	Addr        [6]byte
	Data        []byte
	RSSI        int8
}

// DecodeLEAdvertisingReport parses the first report out of the sub-event
// body. This host only ever acts on the first report per packet, matching
// the teacher's per-report dispatch in linux/hci.go's handleAdvertisement.
func DecodeLEAdvertisingReport(b []byte) (LEAdvertisingReportEvent, error) {
	if len(b) < 2 {
		return LEAdvertisingReportEvent{}, ErrMalformedEvent{EventLEMeta}
	}
	// b[0] is numReports; we only look at the first.
	if len(b) < 9 {
		return LEAdvertisingReportEvent{}, ErrMalformedEvent{EventLEMeta}
	}
	var ev LEAdvertisingReportEvent
	ev.EventType = b[1]
	ev.AddrType = b[2]
	copy(ev.Addr[:], b[3:9])
	dlen := 0
	if len(b) > 9 {
		dlen = int(b[9])
	}
	start := 10
	end := start + dlen
	if end > len(b)-1 {
		end = len(b) - 1
	}
	if end > start {
		ev.Data = append([]byte(nil), b[start:end]...)
	}
	if len(b) > 0 {
		ev.RSSI = int8(b[len(b)-1])
	}
	return ev, nil
}

// NumberOfCompletedPacketsEvent reports buffers the controller has freed
// (§4.E item 1; controller-flow accounting, may be a no-op).
type NumberOfCompletedPacketsEvent struct {
	Handles  []uint16
	Counts   []uint16
}

// DecodeNumberOfCompletedPackets parses the event body.
func DecodeNumberOfCompletedPackets(b []byte) (NumberOfCompletedPacketsEvent, error) {
	if len(b) < 1 {
		return NumberOfCompletedPacketsEvent{}, ErrMalformedEvent{EventNumberOfCompletedPkts}
	}
	n := int(b[0])
	if len(b) < 1+4*n {
		return NumberOfCompletedPacketsEvent{}, ErrMalformedEvent{EventNumberOfCompletedPkts}
	}
	ev := NumberOfCompletedPacketsEvent{
		Handles: make([]uint16, n),
		Counts:  make([]uint16, n),
	}
	for i := 0; i < n; i++ {
		ev.Handles[i] = binary.LittleEndian.Uint16(b[1+2*i:])
	}
	for i := 0; i < n; i++ {
		ev.Counts[i] = binary.LittleEndian.Uint16(b[1+2*n+2*i:])
	}
	return ev, nil
}
