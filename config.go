package host

import "github.com/go-ble/host/internal/hci"

// Config bundles everything an Adapter needs at construction time: the
// buffer resources it borrows and the sizing of its internal tables.
// Struct-literal configuration, no flag/env parsing — this is an embedded
// library, the same posture the teacher takes with gatt.Server{}.
type Config struct {
	// Resources supplies the packet pool. Required.
	Resources *HostResources

	// Connections bounds the number of simultaneous LE links.
	Connections int
	// Channels bounds the number of simultaneous dynamic L2CAP channels,
	// independent of Connections (several channels may share one link).
	Channels int

	// LocalATTMTU is the largest ATT MTU this host will ever negotiate up
	// to (§4.D).
	LocalATTMTU uint16

	// L2CAPInitialCredits and L2CAPLowWater configure every dynamic
	// channel's receive-credit replenishment (§4.C).
	L2CAPInitialCredits uint16
	L2CAPLowWater       uint16

	// L2CAPLocalMTU and L2CAPLocalMPS are this host's own receive MTU/MPS
	// for dynamic L2CAP channels, advertised in LE Credit Based Connection
	// Responses (§4.C). Zero defaults to the packet pool's MTU.
	L2CAPLocalMTU uint16
	L2CAPLocalMPS uint16
}

// withDefaults fills in the zero-value fields a caller is unlikely to have
// opinions about.
func (c Config) withDefaults() Config {
	if c.Connections == 0 {
		c.Connections = 4
	}
	if c.Channels == 0 {
		c.Channels = 4
	}
	if c.LocalATTMTU == 0 {
		c.LocalATTMTU = 247
	}
	if c.L2CAPInitialCredits == 0 {
		c.L2CAPInitialCredits = 8
	}
	return c
}

// startupEventMask is the event mask the event loop enables before
// accepting any control commands, mirroring adapter.rs's initial
// Set_Event_Mask during Adapter::new.
func startupEventMask() hci.SetEventMask {
	return hci.SetEventMask{
		Mask: hci.EventMaskConnectionComplete |
			hci.EventMaskConnectionRequest |
			hci.EventMaskDisconnectionComplete |
			hci.EventMaskHardwareError |
			hci.EventMaskLEMeta,
	}
}
