// Package env implements the environment table: the kernel's isolation
// units, each with its own address space, trap frame, and IPC slot.
//
// Grounded on the Data Model "Environment" section of spec.md and on
// original_source/kern/syscall.c's envid2env/sys_exofork for exact field
// semantics; struct shape follows the teacher's convention of a
// mutex-guarded table (biscuit/src/mem/mem.go's Physmem_t, accnt/accnt.go's
// Accnt_t) rather than a single global lock per environment.
package env

import (
	"sync"

	"exovisor/pkg/errs"
	"exovisor/pkg/mem"
)

// / NENV is the fixed size of the environment table.
const NENV = 1024

// / Status_t enumerates the lifecycle of an environment.
type Status_t int

const (
	FREE Status_t = iota
	RUNNABLE
	NOT_RUNNABLE
	DYING
)

// / Trapframe_t is a minimal stand-in for the saved user register state;
// / spec.md §9 treats the real trampoline/trapframe as inherently
// / architecture-specific and asks only that the calling convention be
// / specified, so this carries just what the kernel itself touches:
// / the syscall return-value register.
type Trapframe_t struct {
	Eax uintptr // syscall return value register
}

// / Env_t is one isolation unit: an address space, a trap frame, and the
// / bookkeeping IPC needs to implement rendezvous (spec.md Data Model).
type Env_t struct {
	mu sync.Mutex

	ID     int
	Parent int
	Status Status_t
	Type   int

	AS *mem.AddrSpace
	TF Trapframe_t

	PgfaultUpcall func(fa uintptr, ecode uintptr) errs.Err_t

	IpcRecving bool
	IpcDstva   uintptr
	IpcSrcEnv  int // 0 = any
	IpcFrom    int
	IpcValue   int
	IpcPerm    mem.Pa_t

	Cwd  string
	Runs int

	gen int // generation counter baked into this slot's envid
}

// / Table is the fixed array of NENV environments plus the free-list and
// / current-environment pointer spec.md §9 calls the kernel's "single
// / context struct."
type Table struct {
	mu    sync.Mutex
	envs  [NENV]*Env_t
	free  []int // slot indices currently FREE, in allocation order
	phys  *mem.Physmem_t
	curID int
}

// / NewTable creates an environment table backed by phys for page
// / allocation. All NENV slots start FREE.
func NewTable(phys *mem.Physmem_t) *Table {
	t := &Table{phys: phys}
	for i := 0; i < NENV; i++ {
		t.envs[i] = &Env_t{ID: 0, Status: FREE}
		t.free = append(t.free, i)
	}
	return t
}

// / mkEnvID combines a slot's generation counter with its index, the way
// / spec.md §4.2 describes envid allocation.
func mkEnvID(gen, slot int) int {
	return gen<<12 | slot
}

func slotOf(id int) int {
	return id & 0xfff
}

// / Alloc hands out a fresh NOT_RUNNABLE environment parented to parent.
// / Returns NO_FREE_ENV if the table is exhausted.
func (t *Table) Alloc(parent int) (*Env_t, errs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.free) == 0 {
		return nil, errs.NO_FREE_ENV
	}
	slot := t.free[0]
	t.free = t.free[1:]

	e := t.envs[slot]
	e.gen++
	e.ID = mkEnvID(e.gen, slot)
	e.Parent = parent
	e.Status = NOT_RUNNABLE
	e.AS = mem.NewAddrSpace(t.phys)
	e.TF = Trapframe_t{}
	e.PgfaultUpcall = nil
	e.IpcRecving = false
	e.IpcDstva = 0
	e.IpcSrcEnv = 0
	e.IpcFrom = 0
	e.IpcValue = 0
	e.IpcPerm = 0
	e.Cwd = "/"
	e.Runs = 0
	return e, 0
}

// / Get returns the environment for id, or nil if its slot has been
// / recycled (generation mismatch) or never allocated.
func (t *Table) Get(id int) *Env_t {
	if id == 0 {
		return nil
	}
	slot := slotOf(id)
	if slot < 0 || slot >= NENV {
		return nil
	}
	t.mu.Lock()
	e := t.envs[slot]
	t.mu.Unlock()
	if e.Status == FREE || e.ID != id {
		return nil
	}
	return e
}

// / Envid2env resolves id to its environment. When checkperm is set, the
// / caller (curID) must be the target or the target's parent (spec.md
// / §4.2).
func (t *Table) Envid2env(curID, id int, checkperm bool) (*Env_t, errs.Err_t) {
	if id == 0 {
		if e := t.Get(curID); e != nil {
			return e, 0
		}
		return nil, errs.BAD_ENV
	}
	e := t.Get(id)
	if e == nil {
		return nil, errs.BAD_ENV
	}
	if checkperm && e.ID != curID && e.Parent != curID {
		return nil, errs.BAD_ENV
	}
	return e, 0
}

// / Destroy tears down id immediately: frees its address space's mappings
// / and returns its slot to the free list, marking it DYING first so a
// / concurrent scheduler pass never picks it up mid-teardown.
func (t *Table) Destroy(e *Env_t) {
	e.mu.Lock()
	e.Status = DYING
	for va := range e.AS.Pmap {
		e.AS.Remove(va)
	}
	e.mu.Unlock()

	t.mu.Lock()
	e.Status = FREE
	t.free = append(t.free, slotOf(e.ID))
	t.mu.Unlock()
}

// / All returns every currently-live environment, for the scheduler's
// / round-robin scan.
func (t *Table) All() []*Env_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Env_t, 0, NENV)
	for _, e := range t.envs {
		if e.Status != FREE {
			out = append(out, e)
		}
	}
	return out
}

// / CurID reports the currently scheduled environment's id (spec.md §9:
// / "current_env as the only truly process-wide handle").
func (t *Table) CurID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.curID
}

// / SetCurID updates the currently scheduled environment.
func (t *Table) SetCurID(id int) {
	t.mu.Lock()
	t.curID = id
	t.mu.Unlock()
}
