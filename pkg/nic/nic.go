// Package nic simulates the e1000 network interface: a memory-mapped
// register file plus fixed-size transmit and receive descriptor rings,
// exposing the Transmit/Receive/MacLow/MacHigh surface pkg/sys.NetDevice
// dispatches to.
//
// Grounded on original_source/kern/e1000.h's register offsets and
// descriptor layout and e1000_attachfn's ring setup, adapted from a
// PCI-mapped register file (mmio_map_region) to the Regs_i interface
// below, since this port has no PCI bus or physical NIC to attach to.
// The one-packet-per-call, non-blocking, caller-retries convention is
// grounded on net/input.c and net/output.c's sys_net_receive/
// sys_net_transmit usage.
package nic

import (
	"sync"

	"exovisor/pkg/errs"
)

// Register offsets and bit positions, ground: kern/e1000.h.
const (
	TX_TCTL      = 0x00400
	TX_TCTL_EN   = 1
	TX_TCTL_PSP  = 3
	TX_TCTL_COLD = 12
	TX_TIPG      = 0x00410

	TX_TDBAL = 0x03800
	TX_TDLEN = 0x03808
	TX_TDH   = 0x03810
	TX_TDT   = 0x03818

	TDESC_DEXT = 5
	TDESC_RS   = 3
	TDESC_EOP  = 0
	TDESC_DD   = 0

	RX_RCTL       = 0x00100
	RX_RCTL_EN    = 1
	RX_RCTL_BAM   = 15
	RX_RCTL_BSIZE = 16
	RX_RCTL_SECRC = 26

	RX_RDBAL = 0x02800
	RX_RDLEN = 0x02808
	RX_RDH   = 0x02810
	RX_RDT   = 0x02818

	RX_MTA    = 0x05200
	RX_RAL    = 0x05400
	RX_RAH    = 0x05404
	RX_RAH_AV = 31

	// RDESC_DD shares TDESC_DD's bit value (0) but is named separately:
	// the original conflates a single DD constant across both the tx_desc
	// and rx_desc status bytes even though they're distinct fields of
	// distinct structs.
	RDESC_DD = 0

	EC_EERD       = 0x00014
	EC_EERD_START = 0
	EC_EERD_DONE  = 4
	EC_EERD_ADDR  = 8
	EC_EERD_DATA  = 16
)

// / NUM_TX is the number of transmit descriptors.
const NUM_TX = 64

// / NUM_RX is the number of receive descriptors.
const NUM_RX = 128

// / MAX_PACKET_LEN is the largest packet Transmit will accept.
const MAX_PACKET_LEN = 16288

// / MAX_PACKET_BUF is the largest packet Receive will return.
const MAX_PACKET_BUF = 2048

// / TxDesc mirrors struct tx_desc's layout.
type TxDesc struct {
	Addr    uint64
	Length  uint16
	Cso     uint8
	Cmd     uint8
	Status  uint8
	Css     uint8
	Special uint16
}

// / RxDesc mirrors struct rx_desc's layout.
type RxDesc struct {
	Addr    uint64
	Length  uint16
	Cso     uint16
	Status  uint8
	Errors  uint8
	Special uint16
}

// / Regs_i abstracts the adapter's memory-mapped register file (ground:
// / e1000_mem, the uint32 array e1000_attachfn indexes by offset>>2),
// / so a test or cmd/exosim can back it with a plain map instead of real
// / MMIO.
type Regs_i interface {
	Read(offset uint32) uint32
	Write(offset uint32, val uint32)
}

// / mapRegs is the default in-memory Regs_i, a simulator standing in for
// / mmio_map_region's mapped BAR.
type mapRegs struct {
	mu sync.Mutex
	m  map[uint32]uint32
}

func newMapRegs() *mapRegs { return &mapRegs{m: make(map[uint32]uint32)} }

func (r *mapRegs) Read(offset uint32) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[offset]
}

func (r *mapRegs) Write(offset uint32, val uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[offset] = val
}

// / Device simulates one e1000 adapter: descriptor rings whose TDH/TDT
// / and RDH/RDT cursors live in Regs_i, exactly as the original reads
// / and advances them through e1000_mem.
type Device struct {
	mu   sync.Mutex
	regs Regs_i

	macLow, macHigh uint32

	tx    [NUM_TX]TxDesc
	txBuf [NUM_TX][]byte

	rx    [NUM_RX]RxDesc
	rxBuf [NUM_RX][]byte
}

// / New creates a Device with an internal register file, reporting the
// / given 48-bit MAC address split into low/high halves the way
// / RX_RAL/RX_RAH hold it (ground: e1000_mac_addr_low/
// / e1000_mac_addr_high).
func New(mac [6]byte) *Device {
	return NewWithRegs(mac, newMapRegs())
}

// / NewWithRegs creates a Device backed by the given register file,
// / for a caller (cmd/exosim, a test) that wants to observe or drive
// / the registers directly.
func NewWithRegs(mac [6]byte, regs Regs_i) *Device {
	low := uint32(mac[0]) | uint32(mac[1])<<8 | uint32(mac[2])<<16 | uint32(mac[3])<<24
	high := uint32(mac[4]) | uint32(mac[5])<<8

	d := &Device{regs: regs, macLow: low, macHigh: high}

	// Ground: e1000_attachfn's ring initialization (TDBAL/TDLEN/TDH/TDT,
	// TCTL enable+pad-short-packets+collision-threshold). There is no
	// PADDR here since the ring lives in a Go array, not mapped memory,
	// so TDBAL/RDBAL are left zero.
	regs.Write(TX_TDLEN, NUM_TX)
	regs.Write(TX_TDH, 0)
	regs.Write(TX_TDT, 0)
	regs.Write(TX_TCTL, (1<<TX_TCTL_EN)|(1<<TX_TCTL_PSP)|(0x40<<TX_TCTL_COLD))

	regs.Write(RX_RDLEN, NUM_RX)
	regs.Write(RX_RDH, 0)
	// RX_RDT starts one behind RX_RDH (mod NUM_RX) so the first descriptor
	// the wire side fills at RDH=0 is the same one Receive polls at
	// (RDT+1) mod NUM_RX (ground: e1000_receive, spec.md §4.6).
	regs.Write(RX_RDT, NUM_RX-1)
	regs.Write(RX_RCTL, (1<<RX_RCTL_EN)|(1<<RX_RCTL_BAM)|(1<<RX_RCTL_SECRC))
	regs.Write(RX_RAL, low)
	regs.Write(RX_RAH, high|(1<<RX_RAH_AV))

	for i := range d.tx {
		d.tx[i].Status = 1 << TDESC_DD
	}
	for i := range d.rx {
		d.rx[i].Status = 0
	}
	return d
}

// / MacLow returns the low 32 bits of the adapter's MAC address.
func (d *Device) MacLow() uint32 { return d.macLow }

// / MacHigh returns the high 16 bits of the adapter's 48-bit MAC address.
func (d *Device) MacHigh() uint32 { return d.macHigh }

// / Transmit enqueues pkt at TX_TDT, failing with NO_MEM if that
// / descriptor isn't marked done (ground: e1000_transmit checking
// / TDESC_DD on the descriptor at TX_TDT before accepting a new packet).
func (d *Device) Transmit(pkt []byte) errs.Err_t {
	if len(pkt) > MAX_PACKET_LEN {
		return errs.INVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	tdt := d.regs.Read(TX_TDT)
	desc := &d.tx[tdt]
	if desc.Status&(1<<TDESC_DD) == 0 {
		return errs.NO_MEM
	}

	buf := make([]byte, len(pkt))
	copy(buf, pkt)
	d.txBuf[tdt] = buf
	desc.Length = uint16(len(pkt))
	desc.Cmd = (1 << TDESC_RS) | (1 << TDESC_EOP)
	desc.Status &^= 1 << TDESC_DD

	d.regs.Write(TX_TDT, (tdt+1)%NUM_TX)
	return 0
}

// / Drain is the simulated wire side of the transmit ring: it removes
// / and returns the packet at TX_TDH, marking that descriptor done again
// / (ground: the physical link consuming a descriptor once the adapter
// / has put it on the wire).
func (d *Device) Drain() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tdh := d.regs.Read(TX_TDH)
	desc := &d.tx[tdh]
	if desc.Status&(1<<TDESC_DD) != 0 {
		return nil, false
	}
	pkt := d.txBuf[tdh]
	d.txBuf[tdh] = nil
	desc.Status |= 1 << TDESC_DD

	d.regs.Write(TX_TDH, (tdh+1)%NUM_TX)
	return pkt, true
}

// / Receive polls the descriptor at (RX_RDT+1) mod NUM_RX and, if it's
// / marked done, copies its packet into buf and advances RX_RDT onto it
// / (ground: e1000_receive, spec.md §4.6: "software pre-populates buffer
// / pointers and polls the descriptor at (RDT + 1) mod NUM_RX"). Returns
// / (0, NO_MEM) if that descriptor is not yet done.
func (d *Device) Receive(buf []byte) (int, errs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := (d.regs.Read(RX_RDT) + 1) % NUM_RX
	desc := &d.rx[next]
	if desc.Status&(1<<RDESC_DD) == 0 {
		return 0, errs.NO_MEM
	}

	n := copy(buf, d.rxBuf[next])
	d.rxBuf[next] = nil
	desc.Status &^= 1 << RDESC_DD

	d.regs.Write(RX_RDT, next)
	return n, 0
}

// / Deliver is the simulated wire side of the receive ring: the
// / hardware's role, filling the descriptor at RX_RDH with an incoming
// / packet and advancing RDH, failing with NO_MEM if that descriptor is
// / still awaiting pickup by Receive.
func (d *Device) Deliver(pkt []byte) errs.Err_t {
	if len(pkt) > MAX_PACKET_BUF {
		return errs.INVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	rdh := d.regs.Read(RX_RDH)
	desc := &d.rx[rdh]
	if desc.Status&(1<<RDESC_DD) != 0 {
		return errs.NO_MEM
	}

	buf := make([]byte, len(pkt))
	copy(buf, pkt)
	d.rxBuf[rdh] = buf
	desc.Length = uint16(len(pkt))
	desc.Status |= 1 << RDESC_DD

	d.regs.Write(RX_RDH, (rdh+1)%NUM_RX)
	return 0
}
