package env

import (
	"testing"

	"exovisor/pkg/errs"
	"exovisor/pkg/mem"
)

func newTable() *Table {
	return NewTable(mem.NewPhysmem(64))
}

func TestAllocAssignsFreshEnvID(t *testing.T) {
	tbl := newTable()
	e1, errCode := tbl.Alloc(0)
	if errCode != 0 {
		t.Fatalf("alloc failed: %v", errCode)
	}
	e2, errCode := tbl.Alloc(0)
	if errCode != 0 {
		t.Fatalf("alloc failed: %v", errCode)
	}
	if e1.ID == e2.ID {
		t.Fatal("expected distinct envids")
	}
	if e1.Status != NOT_RUNNABLE {
		t.Fatalf("expected NOT_RUNNABLE, got %v", e1.Status)
	}
}

func TestAllocExhaustion(t *testing.T) {
	tbl := NewTable(mem.NewPhysmem(4))
	for i := 0; i < NENV; i++ {
		if _, e := tbl.Alloc(0); e != 0 {
			t.Fatalf("unexpected exhaustion at %d: %v", i, e)
		}
	}
	if _, e := tbl.Alloc(0); e != errs.NO_FREE_ENV {
		t.Fatalf("expected NO_FREE_ENV, got %v", e)
	}
}

func TestEnvid2envPermissionCheck(t *testing.T) {
	tbl := newTable()
	parent, _ := tbl.Alloc(0)
	child, _ := tbl.Alloc(parent.ID)
	stranger, _ := tbl.Alloc(0)

	if _, e := tbl.Envid2env(parent.ID, child.ID, true); e != 0 {
		t.Fatalf("parent should access child: %v", e)
	}
	if _, e := tbl.Envid2env(stranger.ID, child.ID, true); e != errs.BAD_ENV {
		t.Fatalf("expected BAD_ENV for stranger, got %v", e)
	}
	if _, e := tbl.Envid2env(stranger.ID, child.ID, false); e != 0 {
		t.Fatalf("no-checkperm lookup should succeed: %v", e)
	}
}

func TestDestroyRecyclesSlotWithNewGeneration(t *testing.T) {
	tbl := newTable()
	e1, _ := tbl.Alloc(0)
	id1 := e1.ID
	tbl.Destroy(e1)

	if tbl.Get(id1) != nil {
		t.Fatal("destroyed envid should no longer resolve")
	}

	e2, _ := tbl.Alloc(0)
	if e2.ID == id1 {
		t.Fatal("expected recycled slot to get a new generation in its envid")
	}
}

func TestDestroyFreesMappedPages(t *testing.T) {
	tbl := newTable()
	e, _ := tbl.Alloc(0)
	_, pa, _ := e.AS.Phys.Refpg_new()
	e.AS.Insert(0x1000, pa, mem.PTE_U|mem.PTE_W)

	tbl.Destroy(e)

	if e.AS.Phys.Refcnt(pa) != 0 {
		t.Fatalf("expected frame freed on destroy, refcnt=%d", e.AS.Phys.Refcnt(pa))
	}
}
