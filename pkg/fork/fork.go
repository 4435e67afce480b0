// Package fork implements user-space copy-on-write fork: duplicating an
// environment's address space page-by-page, marking shared writable pages
// COW in both parent and child, and resolving the resulting page faults by
// copying on first write.
//
// Grounded on original_source/lib/fork.c's pgfault/duppage/fork trio.
package fork

import (
	"exovisor/pkg/env"
	"exovisor/pkg/errs"
	"exovisor/pkg/mem"
)

// / Pgfault resolves a write fault at fa within e's address space. It
// / copies the faulting page into a fresh frame and remaps it read-write,
// / dropping the COW marker (ground: lib/fork.c's pgfault). Returns INVAL
// / if the page isn't present, the fault wasn't a write, or the page
// / isn't marked PTE_COW — such a fault is not ours to fix.
func Pgfault(e *env.Env_t, fa uintptr, wasWrite bool) errs.Err_t {
	va := uintptr(mem.Rounddown(int(fa), mem.PGSIZE))
	pa, perm, ok := e.AS.Lookup(va)
	if !ok || !wasWrite || perm&mem.PTE_COW == 0 {
		return errs.INVAL
	}

	newFrame, newPa, ok := e.AS.Phys.Refpg_new()
	if !ok {
		return errs.NO_MEM
	}
	old := e.AS.Phys.Dmap(pa)
	*newFrame = *old

	e.AS.Insert(va, newPa, (perm&^mem.PTE_COW)|mem.PTE_W)
	return 0
}

// / duppage maps the page at va into child's address space (and
// / re-installs it in parent's), marking it COW on both sides if it was
// / writable or already COW and not explicitly PTE_SHARED (ground:
// / lib/fork.c's duppage — the "mark ours COW again" step is required
// / because Insert would otherwise leave the parent's own mapping
// / writable while the child's copy is COW, breaking the copy-on-write
// / invariant for whichever side writes first).
func duppage(parent, child *env.Env_t, va uintptr) {
	pa, perm, ok := parent.AS.Lookup(va)
	if !ok {
		return
	}
	perm &= mem.PTE_SYSCALL
	if perm&mem.PTE_SHARED == 0 && perm&mem.PTE_W != 0 {
		perm = (perm &^ mem.PTE_W) | mem.PTE_COW
	}
	child.AS.Insert(va, pa, perm)
	parent.AS.Insert(va, pa, perm)
}

// / Fork creates a child of parent, copy-on-write mapping every present
// / user (PTE_U) page, and returns the child's id. The child's
// / page-fault upcall is carried over so Pgfault above can resolve its
// / first write to each shared page (ground: lib/fork.c's fork, minus
// / the exception-stack special case, which spec.md §9 treats as
// / architecture-specific trampoline detail out of scope for the port).
func Fork(tbl *env.Table, parentID int) (childID int, errc errs.Err_t) {
	parent := tbl.Get(parentID)
	if parent == nil {
		return 0, errs.BAD_ENV
	}

	child, e := tbl.Alloc(parentID)
	if e != 0 {
		return 0, e
	}

	for va, pte := range parent.AS.Pmap {
		if pte&mem.PTE_P == 0 || pte&mem.PTE_U == 0 {
			continue
		}
		duppage(parent, child, va)
	}

	child.PgfaultUpcall = parent.PgfaultUpcall
	child.Status = env.RUNNABLE
	return child.ID, 0
}
