// Command nsd runs the NS user-space daemons: an input loop that lifts
// packets off the simulated NIC and hands them to the ns environment over
// IPC, and an output loop that takes packets the ns environment produces
// and puts them back on the wire.
//
// Grounded on original_source/net/input.c's and output.c's two
// independent loops, each a thin sys_net_receive/ipc_send or
// ipc_recv/sys_net_transmit pump. Since this port has no separate
// process address spaces, the three logical environments (input, ns,
// output) run as goroutines coordinated by an errgroup.Group, serialized
// behind one mutex standing in for the single-CPU non-preemptive kernel
// this whole system simulates (spec.md §4.2, §5).
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"exovisor/pkg/env"
	"exovisor/pkg/errs"
	"exovisor/pkg/ipc"
	"exovisor/pkg/mem"
	"exovisor/pkg/nic"
	"exovisor/pkg/sched"
	"exovisor/pkg/util"
)

const pollInterval = time.Millisecond

// / kernel bundles the shared, mutex-serialized state every daemon loop
// / touches: the environment table, scheduler, and NIC device. Every
// / access to any of these fields must hold mu, simulating the single
// / current-environment invariant a real non-preemptive kernel enforces
// / by never running two environments at once.
type kernel struct {
	mu    sync.Mutex
	tbl   *env.Table
	sched *sched.Scheduler
	nic   *nic.Device
}

// / recvOne blocks id until a packet-bearing message arrives from
// / srcenv, polling between scheduler turns since ipc.Recv (grounded on
// / sys_ipc_recv) returns synchronously in this in-process model rather
// / than truly suspending the caller until a matching TrySend lands.
func (k *kernel) recvOne(ctx context.Context, id, srcenv int) (length, from int, errc errs.Err_t) {
	k.mu.Lock()
	self := k.tbl.Get(id)
	_, _, _, errc = ipc.Recv(k.sched, self, ipc.USER_TOP, srcenv)
	k.mu.Unlock()
	if errc != 0 {
		return 0, 0, errc
	}

	for {
		k.mu.Lock()
		recving := self.IpcRecving
		length, from = self.IpcValue, self.IpcFrom
		k.mu.Unlock()
		if !recving {
			return length, from, 0
		}
		select {
		case <-ctx.Done():
			return 0, 0, errs.BAD_ENV
		case <-time.After(pollInterval):
		}
	}
}

// / sendOne delivers val from fromID to toID, retrying IPC_NOT_RECV with
// / the kernel lock released between attempts so the receiver's own
// / loop can make progress (ground: lib/ipc.c's ipc_send retry, adapted
// / to not hold the kernel lock across the whole retry span the way
// / pkg/ipc.Send would if called directly here).
func (k *kernel) sendOne(ctx context.Context, fromID, toID, val int) errs.Err_t {
	for {
		k.mu.Lock()
		errc := ipc.TrySend(k.tbl, fromID, toID, val, ipc.USER_TOP, 0)
		k.mu.Unlock()
		if errc != errs.IPC_NOT_RECV {
			return errc
		}
		select {
		case <-ctx.Done():
			return errs.BAD_ENV
		case <-time.After(pollInterval):
		}
	}
}

// / inputLoop lifts packets off the NIC and forwards their length to the
// / ns environment (ground: net/input.c's input(), whose jp_len field
// / this port's IPC value stands in for).
func inputLoop(ctx context.Context, k *kernel, selfID, nsID int, log *logrus.Entry) error {
	buf := make([]byte, nic.MAX_PACKET_BUF)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		k.mu.Lock()
		n, errc := k.nic.Receive(buf)
		k.mu.Unlock()
		if errc != 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}

		if errc := k.sendOne(ctx, selfID, nsID, n); errc != 0 {
			log.WithField("err", errc).Warn("dropped packet forwarding to ns")
		} else {
			log.WithField("bytes", n).Debug("forwarded packet to ns")
		}
	}
}

// / nsLoop is a minimal loopback stand-in for the real network stack
// / ns_envid would run: every packet input() delivers is immediately
// / handed to output() for retransmission.
func nsLoop(ctx context.Context, k *kernel, selfID, inputID, outputID int, log *logrus.Entry) error {
	for {
		length, _, errc := k.recvOne(ctx, selfID, inputID)
		if errc != 0 {
			return errc.AsError()
		}
		if errc := k.sendOne(ctx, selfID, outputID, length); errc != 0 {
			log.WithField("err", errc).Warn("dropped packet forwarding to output")
		}
	}
}

// / outputLoop takes packets the ns environment hands it and transmits
// / them (ground: net/output.c's output(), whose sys_net_transmit call
// / this wraps).
func outputLoop(ctx context.Context, k *kernel, selfID, nsID int, log *logrus.Entry) error {
	pkt := make([]byte, nic.MAX_PACKET_LEN)
	for i := range pkt {
		pkt[i] = byte(i)
	}
	for {
		length, _, errc := k.recvOne(ctx, selfID, nsID)
		if errc != 0 {
			return errc.AsError()
		}
		length = util.Min(length, len(pkt))
		k.mu.Lock()
		txErr := k.nic.Transmit(pkt[:length])
		k.mu.Unlock()
		if txErr != 0 {
			log.WithField("err", txErr).Warn("transmit failed")
		} else {
			log.WithField("bytes", length).Debug("transmitted packet")
		}
	}
}

func main() {
	log := logrus.New().WithField("component", "nsd")

	phys := mem.NewPhysmem(4096)
	tbl := env.NewTable(phys)
	k := &kernel{tbl: tbl, sched: sched.New(tbl), nic: nic.New([6]byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56})}

	inputEnv, errc := tbl.Alloc(0)
	if errc != 0 {
		log.Fatalf("alloc input env: %v", errc)
	}
	nsEnv, errc := tbl.Alloc(0)
	if errc != 0 {
		log.Fatalf("alloc ns env: %v", errc)
	}
	outputEnv, errc := tbl.Alloc(0)
	if errc != 0 {
		log.Fatalf("alloc output env: %v", errc)
	}
	inputEnv.Status, nsEnv.Status, outputEnv.Status = env.RUNNABLE, env.RUNNABLE, env.RUNNABLE

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return inputLoop(ctx, k, inputEnv.ID, nsEnv.ID, log) })
	g.Go(func() error { return nsLoop(ctx, k, nsEnv.ID, inputEnv.ID, outputEnv.ID, log) })
	g.Go(func() error { return outputLoop(ctx, k, outputEnv.ID, nsEnv.ID, log) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("nsd exited with error")
		os.Exit(1)
	}
}
