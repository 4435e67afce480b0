package nic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"exovisor/pkg/errs"
)

func testMac() [6]byte { return [6]byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56} }

func TestMacAddressSplitIntoHalves(t *testing.T) {
	d := New(testMac())
	require.Equal(t, uint32(0x12005452), d.MacLow())
	require.Equal(t, uint32(0x5634), d.MacHigh())
}

func TestAttachInitializesControlRegisters(t *testing.T) {
	regs := newMapRegs()
	NewWithRegs(testMac(), regs)

	require.Equal(t, uint32(NUM_TX), regs.Read(TX_TDLEN))
	require.Equal(t, uint32(NUM_RX), regs.Read(RX_RDLEN))
	require.NotZero(t, regs.Read(TX_TCTL)&(1<<TX_TCTL_EN))
	require.NotZero(t, regs.Read(RX_RCTL)&(1<<RX_RCTL_EN))
	require.NotZero(t, regs.Read(RX_RAH)&(1<<RX_RAH_AV))
}

func TestTransmitThenDrainRoundTrips(t *testing.T) {
	d := New(testMac())
	pkt := []byte("ethernet frame")
	require.Zero(t, d.Transmit(pkt))

	got, ok := d.Drain()
	require.True(t, ok)
	require.Equal(t, pkt, got)
}

func TestTransmitRejectsOversizedPacket(t *testing.T) {
	d := New(testMac())
	require.Equal(t, errs.INVAL, d.Transmit(make([]byte, MAX_PACKET_LEN+1)))
}

func TestTransmitFailsWhenRingFull(t *testing.T) {
	d := New(testMac())
	for i := 0; i < NUM_TX; i++ {
		require.Zero(t, d.Transmit([]byte("x")), "transmit %d", i)
	}
	require.Equal(t, errs.NO_MEM, d.Transmit([]byte("x")))
}

func TestTransmitSucceedsAgainAfterDrain(t *testing.T) {
	d := New(testMac())
	for i := 0; i < NUM_TX; i++ {
		require.Zero(t, d.Transmit([]byte("x")))
	}
	_, ok := d.Drain()
	require.True(t, ok)
	require.Zero(t, d.Transmit([]byte("y")))
}

func TestDrainEmptyRingReturnsFalse(t *testing.T) {
	d := New(testMac())
	_, ok := d.Drain()
	require.False(t, ok)
}

func TestDeliverThenReceiveRoundTrips(t *testing.T) {
	d := New(testMac())
	pkt := []byte("incoming frame")
	require.Zero(t, d.Deliver(pkt))

	buf := make([]byte, MAX_PACKET_BUF)
	n, errc := d.Receive(buf)
	require.Zero(t, errc)
	require.Equal(t, pkt, buf[:n])
}

func TestReceiveEmptyRingFails(t *testing.T) {
	d := New(testMac())
	buf := make([]byte, MAX_PACKET_BUF)
	_, errc := d.Receive(buf)
	require.Equal(t, errs.NO_MEM, errc)
}

func TestReceiveOrdersPacketsFIFO(t *testing.T) {
	d := New(testMac())
	require.Zero(t, d.Deliver([]byte("first")))
	require.Zero(t, d.Deliver([]byte("second")))

	buf := make([]byte, MAX_PACKET_BUF)
	n, _ := d.Receive(buf)
	require.Equal(t, "first", string(buf[:n]))
	n, _ = d.Receive(buf)
	require.Equal(t, "second", string(buf[:n]))
}

func TestDeliverFailsWhenRingFull(t *testing.T) {
	d := New(testMac())
	for i := 0; i < NUM_RX; i++ {
		require.Zero(t, d.Deliver([]byte("x")), "deliver %d", i)
	}
	require.Equal(t, errs.NO_MEM, d.Deliver([]byte("x")))
}
