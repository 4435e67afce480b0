// Package sys implements the kernel's single syscall surface: the
// handlers behind every exposed operation and the dispatcher that routes
// a syscall number to them.
//
// Grounded on original_source/kern/syscall.c, handler by handler; the
// validation order of each function below matches its C counterpart
// exactly (same checks, same order, same error codes) since spec.md
// calls out reproducing them as the whole point of the exercise.
package sys

import (
	"encoding/binary"

	"exovisor/pkg/env"
	"exovisor/pkg/errs"
	"exovisor/pkg/fork"
	"exovisor/pkg/ipc"
	"exovisor/pkg/mem"
	"exovisor/pkg/sched"
	"exovisor/pkg/util"
)

const USER_TOP = uintptr(1) << 40

// / NetDevice is the minimal surface pkg/nic must satisfy for
// / NetTransmit/NetReceive/MacAddr{Low,High} to dispatch to it. Declared
// / here rather than imported from pkg/nic to avoid a dependency from the
// / syscall layer onto a specific device driver package.
type NetDevice interface {
	Transmit(pkt []byte) errs.Err_t
	Receive(buf []byte) (int, errs.Err_t)
	MacLow() uint32
	MacHigh() uint32
}

// / Clock supplies wall-clock milliseconds for sys_time_msec.
type Clock interface {
	Msec() int
}

// / Syscalls is the kernel-side handler set, holding everything a
// / handler needs to reach: the environment table, the scheduler, and
// / the optional network device and clock.
type Syscalls struct {
	Table *env.Table
	Sched *sched.Scheduler
	Net   NetDevice
	Clock Clock

	// Puts receives the bytes a user environment wants printed to the
	// console (ground: sys_cputs's cprintf). Left nil-safe: a nil Puts
	// silently discards output rather than panicking, matching a
	// headless test harness with no console attached.
	Puts func(s string)
}

func validateVA(va uintptr) bool {
	return va < USER_TOP && uintptr(mem.Rounddown(int(va), mem.PGSIZE)) == va
}

func validatePerm(perm mem.Pa_t) bool {
	return (perm^(mem.PTE_U|mem.PTE_P))&^(mem.PTE_AVAIL2|mem.PTE_COW|mem.PTE_SHARED|mem.PTE_W) == 0
}

// / Cputs prints s on behalf of self; there is no memory-region check to
// / perform since Go strings are already safely owned by the caller
// / (ground: sys_cputs, minus the user_mem_assert that exists only
// / because C callers pass raw pointers).
func (s *Syscalls) Cputs(self int, str string) errs.Err_t {
	if s.Puts != nil {
		s.Puts(str)
	}
	return 0
}

// / Getenvid returns self.
func (s *Syscalls) Getenvid(self int) int {
	return self
}

// / EnvDestroy tears envid down. The caller must be envid or its parent.
func (s *Syscalls) EnvDestroy(self, envid int) errs.Err_t {
	e, errc := s.Table.Envid2env(self, envid, true)
	if errc != 0 {
		return errc
	}
	s.Table.Destroy(e)
	return 0
}

// / Yield deschedules self and picks the next runnable environment.
func (s *Syscalls) Yield() *env.Env_t {
	return s.Sched.Yield()
}

// / Exofork allocates a new NOT_RUNNABLE environment parented to self,
// / copying self's trap frame and cwd but forcing the eax register to 0
// / so the child sees a zero return value on its first resume (ground:
// / sys_exofork).
func (s *Syscalls) Exofork(self int) (int, errs.Err_t) {
	parent := s.Table.Get(self)
	if parent == nil {
		return 0, errs.BAD_ENV
	}
	child, errc := s.Table.Alloc(self)
	if errc != 0 {
		return 0, errc
	}
	child.TF = parent.TF
	child.TF.Eax = 0
	child.Cwd = parent.Cwd
	return child.ID, 0
}

// / EnvSetStatus sets envid's status, which must be RUNNABLE or
// / NOT_RUNNABLE.
func (s *Syscalls) EnvSetStatus(self, envid int, status env.Status_t) errs.Err_t {
	e, errc := s.Table.Envid2env(self, envid, true)
	if errc != 0 {
		return errs.BAD_ENV
	}
	if status != env.RUNNABLE && status != env.NOT_RUNNABLE {
		return errs.INVAL
	}
	e.Status = status
	return 0
}

// / EnvSetTrapframe overwrites envid's trap frame.
func (s *Syscalls) EnvSetTrapframe(self, envid int, tf env.Trapframe_t) errs.Err_t {
	e, errc := s.Table.Envid2env(self, envid, true)
	if errc != 0 {
		return errs.BAD_ENV
	}
	e.TF = tf
	return 0
}

// / EnvConvert transplants envid's trap frame into self and swaps their
// / address spaces, so that destroying envid frees self's *original*
// / address space, then destroys envid and yields. On success it returns
// / 0 after that yield; the C version does not return on success (the
// / caller becomes envid and resumes via the scheduler).
func (s *Syscalls) EnvConvert(self, envid int) errs.Err_t {
	target, errc := s.Table.Envid2env(self, envid, true)
	if errc != 0 {
		return errs.BAD_ENV
	}
	if target.Runs > 0 {
		return errs.INVAL
	}
	cur := s.Table.Get(self)
	if cur == nil {
		return errs.BAD_ENV
	}

	cur.TF = target.TF
	cur.AS, target.AS = target.AS, cur.AS

	s.Table.Destroy(target)
	s.Sched.Yield()
	return 0
}

// / EnvSetPgfaultUpcall installs the page-fault handler invoked when
// / envid takes a COW (or other) fault.
func (s *Syscalls) EnvSetPgfaultUpcall(self, envid int, upcall func(fa, ecode uintptr) errs.Err_t) errs.Err_t {
	e, errc := s.Table.Envid2env(self, envid, true)
	if errc != 0 {
		return errs.BAD_ENV
	}
	e.PgfaultUpcall = upcall
	return 0
}

// / PageAlloc allocates a zeroed page and maps it at va in envid's
// / address space with perm, unmapping any page already there.
func (s *Syscalls) PageAlloc(self, envid int, va uintptr, perm mem.Pa_t) errs.Err_t {
	e, errc := s.Table.Envid2env(self, envid, true)
	if errc != 0 {
		return errs.BAD_ENV
	}
	if !validateVA(va) {
		return errs.INVAL
	}
	if !validatePerm(perm) {
		return errs.INVAL
	}
	_, pa, ok := e.AS.Phys.Refpg_new()
	if !ok {
		return errs.NO_MEM
	}
	e.AS.Insert(va, pa, perm)
	return 0
}

// / PageMap maps srcva from srcenvid's address space into dstva in
// / dstenvid's, with perm. perm must not grant write access beyond what
// / srcva already has.
func (s *Syscalls) PageMap(self, srcenvid int, srcva uintptr, dstenvid int, dstva uintptr, perm mem.Pa_t) errs.Err_t {
	srcEnv, errc := s.Table.Envid2env(self, srcenvid, true)
	if errc != 0 {
		return errs.BAD_ENV
	}
	dstEnv, errc := s.Table.Envid2env(self, dstenvid, true)
	if errc != 0 {
		return errs.BAD_ENV
	}
	if !validateVA(srcva) || !validateVA(dstva) {
		return errs.INVAL
	}
	pa, srcperm, ok := srcEnv.AS.Lookup(srcva)
	if !ok {
		return errs.INVAL
	}
	if !validatePerm(perm) {
		return errs.INVAL
	}
	if perm&mem.PTE_W != 0 && srcperm&mem.PTE_W == 0 {
		return errs.INVAL
	}
	dstEnv.AS.Insert(dstva, pa, perm)
	return 0
}

// / PageUnmap unmaps va in envid's address space. Silently succeeds if
// / nothing is mapped there.
func (s *Syscalls) PageUnmap(self, envid int, va uintptr) errs.Err_t {
	e, errc := s.Table.Envid2env(self, envid, true)
	if errc != 0 {
		return errs.BAD_ENV
	}
	if !validateVA(va) {
		return errs.INVAL
	}
	e.AS.Remove(va)
	return 0
}

// / Chdir sets self's current working directory.
func (s *Syscalls) Chdir(self int, path string) errs.Err_t {
	e := s.Table.Get(self)
	if e == nil {
		return errs.BAD_ENV
	}
	e.Cwd = path
	return 0
}

// / IpcTrySend attempts a single rendezvous delivery; see pkg/ipc.TrySend.
func (s *Syscalls) IpcTrySend(self, envid int, value int, srcva uintptr, perm mem.Pa_t) errs.Err_t {
	return ipc.TrySend(s.Table, self, envid, value, srcva, perm)
}

// / IpcRecv records self's receive intent and yields once, without
// / waiting for a matching sender; see pkg/ipc.Recv.
func (s *Syscalls) IpcRecv(self int, dstva uintptr, srcenv int) (val, from int, perm mem.Pa_t, errc errs.Err_t) {
	e := s.Table.Get(self)
	if e == nil {
		return 0, 0, 0, errs.BAD_ENV
	}
	return ipc.Recv(s.Sched, e, dstva, srcenv)
}

// / Fork forks self via pkg/fork.Fork, wiring the syscall layer's table
// / into the user-space COW fork helper.
func (s *Syscalls) Fork(self int) (int, errs.Err_t) {
	return fork.Fork(s.Table, self)
}

// / TimeMsec returns the current wall-clock time in milliseconds.
func (s *Syscalls) TimeMsec() int {
	if s.Clock == nil {
		return 0
	}
	return s.Clock.Msec()
}

const MaxPacketLen = 16288
const MaxPacketBuf = 2048

// / NetTransmit sends len(pkt) bytes, rejecting packets over
// / MaxPacketLen.
func (s *Syscalls) NetTransmit(pkt []byte) errs.Err_t {
	if s.Net == nil {
		return errs.NO_DISK
	}
	if len(pkt) > MaxPacketLen {
		return errs.INVAL
	}
	return s.Net.Transmit(pkt)
}

// / NetReceive fills buf with the next available packet, returning its
// / length.
func (s *Syscalls) NetReceive(buf []byte) (int, errs.Err_t) {
	if s.Net == nil {
		return 0, errs.NO_DISK
	}
	return s.Net.Receive(buf)
}

// / MacAddrLow returns the low 32 bits of the NIC's MAC address.
func (s *Syscalls) MacAddrLow() uint32 {
	if s.Net == nil {
		return 0
	}
	return s.Net.MacLow()
}

// / MacAddrHigh returns the high 16 bits of the NIC's 48-bit MAC address.
func (s *Syscalls) MacAddrHigh() uint32 {
	if s.Net == nil {
		return 0
	}
	return s.Net.MacHigh()
}

// Syscall numbers, in the order syscall.c's switch lists them.
const (
	SYS_CPUTS uint32 = iota
	SYS_CGETC
	SYS_GETENVID
	SYS_ENV_DESTROY
	SYS_PAGE_ALLOC
	SYS_PAGE_MAP
	SYS_PAGE_UNMAP
	SYS_CHDIR
	SYS_EXOFORK
	SYS_ENV_SET_STATUS
	SYS_ENV_SET_TRAPFRAME
	SYS_ENV_CONVERT
	SYS_ENV_SET_PGFAULT_UPCALL
	SYS_YIELD
	SYS_IPC_TRY_SEND
	SYS_IPC_RECV
	SYS_TIME_MSEC
	SYS_NET_TRANSMIT
	SYS_NET_RECEIVE
	SYS_MAC_ADDR_LOW
	SYS_MAC_ADDR_HIGH
)

const maxCwdLen = 4096

// / readUserBytes copies n bytes out of self's address space starting at
// / va, walking page by page the way user_mem_assert/memmove do (ground:
// / syscall.c's sys_cputs, sys_net_transmit): every covered page must be
// / mapped or the whole read fails INVAL.
func (s *Syscalls) readUserBytes(self int, va uintptr, n int) ([]byte, errs.Err_t) {
	e := s.Table.Get(self)
	if e == nil {
		return nil, errs.BAD_ENV
	}
	if va >= USER_TOP || USER_TOP-va < uintptr(n) {
		return nil, errs.INVAL
	}
	buf := make([]byte, n)
	for off := 0; off < n; {
		pageva := uintptr(mem.Rounddown(int(va)+off, mem.PGSIZE))
		pa, _, ok := e.AS.Lookup(pageva)
		if !ok {
			return nil, errs.INVAL
		}
		frame := e.AS.Phys.Dmap(pa)
		pageOff := int(va) + off - int(pageva)
		want := util.Min(mem.PGSIZE-pageOff, n-off)
		copy(buf[off:off+want], frame[pageOff:pageOff+want])
		off += want
	}
	return buf, 0
}

// / writeUserBytes is readUserBytes's inverse, used by net_receive to
// / deliver a packet into the caller's buffer.
func (s *Syscalls) writeUserBytes(self int, va uintptr, data []byte) errs.Err_t {
	e := s.Table.Get(self)
	if e == nil {
		return errs.BAD_ENV
	}
	n := len(data)
	if va >= USER_TOP || USER_TOP-va < uintptr(n) {
		return errs.INVAL
	}
	for off := 0; off < n; {
		pageva := uintptr(mem.Rounddown(int(va)+off, mem.PGSIZE))
		pa, _, ok := e.AS.Lookup(pageva)
		if !ok {
			return errs.INVAL
		}
		frame := e.AS.Phys.Dmap(pa)
		pageOff := int(va) + off - int(pageva)
		want := util.Min(mem.PGSIZE-pageOff, n-off)
		copy(frame[pageOff:pageOff+want], data[off:off+want])
		off += want
	}
	return 0
}

// / readUserCString reads a NUL-terminated string out of self's address
// / space (ground: sys_chdir's strcpy(curenv->env_cwd, path)), capped at
// / maxCwdLen to keep a corrupt or malicious environment from driving
// / this into an unbounded loop.
func (s *Syscalls) readUserCString(self int, va uintptr) (string, errs.Err_t) {
	e := s.Table.Get(self)
	if e == nil {
		return "", errs.BAD_ENV
	}
	var buf []byte
	for len(buf) < maxCwdLen {
		if va >= USER_TOP {
			return "", errs.INVAL
		}
		pageva := uintptr(mem.Rounddown(int(va), mem.PGSIZE))
		pa, _, ok := e.AS.Lookup(pageva)
		if !ok {
			return "", errs.INVAL
		}
		frame := e.AS.Phys.Dmap(pa)
		b := frame[int(va)-int(pageva)]
		if b == 0 {
			return string(buf), 0
		}
		buf = append(buf, b)
		va++
	}
	return "", errs.INVAL
}

// / Dispatch is the syscall dispatcher's single entry point: it decodes
// / the untyped argument registers for syscallno into each handler's
// / typed signature, calls it, and folds the result into the signed
// / 32-bit ABI value spec.md §4.3/§6 specifies (non-negative on success,
// / one of errs's negative constants on failure). Grounded line-for-line
// / on syscall.c's switch, including which calls never meaningfully
// / return versus which hand back a value.
// /
// / SYS_ENV_SET_PGFAULT_UPCALL is accepted but always reports INVAL: the
// / original passes a bare user trampoline address, but pkg/fork models
// / the upcall as a registered Go closure (see pkg/fork's grounding
// / note), and there is no raw va this ABI could turn into one.
func (s *Syscalls) Dispatch(self int, syscallno uint32, a1, a2, a3, a4, a5 uintptr) int32 {
	switch syscallno {
	case SYS_CPUTS:
		str, errc := s.readUserBytes(self, a1, int(a2))
		if errc != 0 {
			return int32(errc)
		}
		return int32(s.Cputs(self, string(str)))

	case SYS_CGETC:
		return 0

	case SYS_GETENVID:
		return int32(s.Getenvid(self))

	case SYS_ENV_DESTROY:
		return int32(s.EnvDestroy(self, int(a1)))

	case SYS_PAGE_ALLOC:
		return int32(s.PageAlloc(self, int(a1), a2, mem.Pa_t(a3)))

	case SYS_PAGE_MAP:
		return int32(s.PageMap(self, int(a1), a2, int(a3), a4, mem.Pa_t(a5)))

	case SYS_PAGE_UNMAP:
		return int32(s.PageUnmap(self, int(a1), a2))

	case SYS_CHDIR:
		path, errc := s.readUserCString(self, a1)
		if errc != 0 {
			return int32(errc)
		}
		return int32(s.Chdir(self, path))

	case SYS_EXOFORK:
		child, errc := s.Exofork(self)
		if errc != 0 {
			return int32(errc)
		}
		return int32(child)

	case SYS_ENV_SET_STATUS:
		return int32(s.EnvSetStatus(self, int(a1), env.Status_t(a2)))

	case SYS_ENV_SET_TRAPFRAME:
		raw, errc := s.readUserBytes(self, a2, 8)
		if errc != 0 {
			return int32(errc)
		}
		tf := env.Trapframe_t{Eax: uintptr(binary.LittleEndian.Uint64(raw))}
		return int32(s.EnvSetTrapframe(self, int(a1), tf))

	case SYS_ENV_CONVERT:
		return int32(s.EnvConvert(self, int(a1)))

	case SYS_ENV_SET_PGFAULT_UPCALL:
		return int32(errs.INVAL)

	case SYS_YIELD:
		s.Yield()
		return 0

	case SYS_IPC_TRY_SEND:
		return int32(s.IpcTrySend(self, int(a1), int(a2), a3, mem.Pa_t(a4)))

	case SYS_IPC_RECV:
		val, _, _, errc := s.IpcRecv(self, a1, int(a2))
		if errc != 0 {
			return int32(errc)
		}
		return int32(val)

	case SYS_TIME_MSEC:
		return int32(s.TimeMsec())

	case SYS_NET_TRANSMIT:
		pkt, errc := s.readUserBytes(self, a1, int(a2))
		if errc != 0 {
			return int32(errc)
		}
		return int32(s.NetTransmit(pkt))

	case SYS_NET_RECEIVE:
		buf := make([]byte, MaxPacketBuf)
		n, errc := s.NetReceive(buf)
		if errc != 0 {
			return int32(errc)
		}
		if errc := s.writeUserBytes(self, a1, buf[:n]); errc != 0 {
			return int32(errc)
		}
		return int32(n)

	case SYS_MAC_ADDR_LOW:
		return int32(s.MacAddrLow())

	case SYS_MAC_ADDR_HIGH:
		return int32(s.MacAddrHigh())

	default:
		return int32(errs.INVAL)
	}
}
