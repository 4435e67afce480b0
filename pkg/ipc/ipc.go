// Package ipc implements the single rendezvous protocol environments use
// to exchange a value and, optionally, a page mapping (spec.md §4.5).
//
// Grounded line-for-line on original_source/kern/syscall.c's
// sys_ipc_try_send/sys_ipc_recv and lib/ipc.c's ipc_send retry helper.
package ipc

import (
	"exovisor/pkg/env"
	"exovisor/pkg/errs"
	"exovisor/pkg/mem"
	"exovisor/pkg/sched"
)

const USER_TOP = uintptr(1) << 40

// / TrySend attempts to deliver val (and, if srcva < USER_TOP, the page
// / mapped at srcva with the given perm) to the environment toID.
// /
// / Fails with IPC_NOT_RECV if the target isn't currently blocked in Recv,
// / or is waiting on a different specific sender. Fails with INVAL if
// / perm requests bits outside PTE_SYSCALL, or requests write access to a
// / source mapping that isn't itself writable.
func TrySend(tbl *env.Table, fromID, toID int, val int, srcva uintptr, perm mem.Pa_t) errs.Err_t {
	dst := tbl.Get(toID)
	if dst == nil {
		return errs.BAD_ENV
	}
	if !dst.IpcRecving {
		return errs.IPC_NOT_RECV
	}
	if dst.IpcSrcEnv != 0 && dst.IpcSrcEnv != fromID {
		return errs.IPC_NOT_RECV
	}

	transferred := false
	if srcva < USER_TOP {
		if perm&^mem.PTE_SYSCALL != 0 {
			return errs.INVAL
		}
		src := tbl.Get(fromID)
		if src == nil {
			return errs.BAD_ENV
		}
		pa, srcperm, ok := src.AS.Lookup(srcva)
		if !ok {
			return errs.INVAL
		}
		if perm&mem.PTE_W != 0 && srcperm&mem.PTE_W == 0 {
			return errs.INVAL
		}
		if dst.IpcDstva < USER_TOP {
			dst.AS.Insert(dst.IpcDstva, pa, perm)
			transferred = true
		}
	}

	dst.IpcRecving = false
	dst.IpcFrom = fromID
	dst.IpcValue = val
	if transferred {
		dst.IpcPerm = perm
	} else {
		dst.IpcPerm = 0
	}
	dst.Status = env.RUNNABLE
	dst.TF.Eax = 0
	return 0
}

// / Recv records the caller's receive intent (dstva, srcenv), marks it
// / NOT_RUNNABLE, and calls Yield once, which only selects the next
// / runnable environment. It then returns whatever self's IpcValue,
// / IpcFrom and IpcPerm hold at that point; it does not wait for a
// / matching TrySend. Until one lands, self.IpcRecving stays true and
// / the returned values are stale, so a caller checks IpcRecving to learn
// / whether delivery happened. Returns INVAL if dstva is misaligned.
func Recv(s *sched.Scheduler, self *env.Env_t, dstva uintptr, srcenv int) (val int, from int, perm mem.Pa_t, errc errs.Err_t) {
	if dstva < USER_TOP {
		if uintptr(mem.Rounddown(int(dstva), mem.PGSIZE)) != dstva {
			return 0, 0, 0, errs.INVAL
		}
		self.IpcDstva = dstva
	} else {
		self.IpcDstva = USER_TOP
	}
	self.IpcRecving = true
	self.IpcSrcEnv = srcenv
	self.Status = env.NOT_RUNNABLE

	s.Yield()

	return self.IpcValue, self.IpcFrom, self.IpcPerm, 0
}

// / Send retries TrySend until it succeeds or fails for a reason other
// / than IPC_NOT_RECV, yielding between attempts (ground: lib/ipc.c's
// / ipc_send). There is no FIFO guarantee across senders (spec.md §4.5).
func Send(tbl *env.Table, s *sched.Scheduler, fromID, toID int, val int, srcva uintptr, perm mem.Pa_t) errs.Err_t {
	for {
		e := TrySend(tbl, fromID, toID, val, srcva, perm)
		if e != errs.IPC_NOT_RECV {
			return e
		}
		s.Yield()
	}
}
