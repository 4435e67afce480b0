package mem

import "testing"

func TestRefpgExhaustion(t *testing.T) {
	p := NewPhysmem(2)
	_, pa1, ok := p.Refpg_new()
	if !ok {
		t.Fatal("expected alloc to succeed")
	}
	_, pa2, ok := p.Refpg_new()
	if !ok {
		t.Fatal("expected alloc to succeed")
	}
	if pa1 == pa2 {
		t.Fatal("expected distinct frames")
	}
	if _, _, ok := p.Refpg_new(); ok {
		t.Fatal("expected pool exhaustion")
	}
	p.Refup(pa1)
	if p.Refdown(pa1) != true {
		t.Fatal("expected frame to be freed")
	}
	if _, _, ok := p.Refpg_new(); !ok {
		t.Fatal("expected a frame to be available after free")
	}
}

func TestInsertRemoveRefcount(t *testing.T) {
	phys := NewPhysmem(4)
	as := NewAddrSpace(phys)
	_, pa, _ := phys.Refpg_new()

	as.Insert(0x1000, pa, PTE_U|PTE_W)
	if phys.Refcnt(pa) != 1 {
		t.Fatalf("expected refcnt 1, got %d", phys.Refcnt(pa))
	}
	got, perm, ok := as.Lookup(0x1000)
	if !ok || got != pa&PTE_ADDR {
		t.Fatalf("lookup mismatch: %v %v", got, ok)
	}
	if perm&PTE_W == 0 {
		t.Fatal("expected writable bit set")
	}

	as.Remove(0x1000)
	if phys.Refcnt(pa) != 0 {
		t.Fatalf("expected refcnt 0 after remove, got %d", phys.Refcnt(pa))
	}
	if _, _, ok := as.Lookup(0x1000); ok {
		t.Fatal("expected unmapped after remove")
	}

	// remove of an unmapped va is silent (spec.md §4.3 page_unmap).
	as.Remove(0x2000)
}

func TestSelfRemapDoesNotTransientlyFree(t *testing.T) {
	phys := NewPhysmem(2)
	as := NewAddrSpace(phys)
	_, pa, _ := phys.Refpg_new()

	as.Insert(0x3000, pa, PTE_U)
	as.Insert(0x3000, pa, PTE_U|PTE_W) // remap same frame at same va
	if phys.Refcnt(pa) != 1 {
		t.Fatalf("expected refcnt to settle at 1, got %d", phys.Refcnt(pa))
	}
}

func TestInsertOverExistingMappingUnmapsPrevious(t *testing.T) {
	phys := NewPhysmem(4)
	as := NewAddrSpace(phys)
	_, pa1, _ := phys.Refpg_new()
	_, pa2, _ := phys.Refpg_new()

	as.Insert(0x4000, pa1, PTE_U)
	as.Insert(0x4000, pa2, PTE_U)

	if phys.Refcnt(pa1) != 0 {
		t.Fatalf("expected old mapping's frame to be unreferenced, got %d", phys.Refcnt(pa1))
	}
	if phys.Refcnt(pa2) != 1 {
		t.Fatalf("expected new frame refcnt 1, got %d", phys.Refcnt(pa2))
	}
}
