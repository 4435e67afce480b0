package fork

import (
	"testing"

	"github.com/stretchr/testify/require"

	"exovisor/pkg/env"
	"exovisor/pkg/errs"
	"exovisor/pkg/mem"
)

func newTable() *env.Table {
	return env.NewTable(mem.NewPhysmem(64))
}

func TestForkMarksSharedWritablePagesCOW(t *testing.T) {
	tbl := newTable()
	parent, _ := tbl.Alloc(0)
	_, pa, _ := parent.AS.Phys.Refpg_new()
	parent.AS.Insert(0x1000, pa, mem.PTE_U|mem.PTE_W)

	childID, e := Fork(tbl, parent.ID)
	require.Zero(t, e)
	child := tbl.Get(childID)

	ppa, pperm, ok := parent.AS.Lookup(0x1000)
	require.True(t, ok)
	require.NotZero(t, pperm&mem.PTE_COW, "expected parent's mapping remarked COW")
	require.Zero(t, pperm&mem.PTE_W, "expected parent's mapping no longer writable")

	cpa, cperm, ok := child.AS.Lookup(0x1000)
	require.True(t, ok)
	require.Equal(t, ppa, cpa, "expected child COW mapping to the same frame")
	require.NotZero(t, cperm&mem.PTE_COW)

	require.Equal(t, 2, parent.AS.Phys.Refcnt(pa))
}

func TestForkPreservesSharedPagesWritable(t *testing.T) {
	tbl := newTable()
	parent, _ := tbl.Alloc(0)
	_, pa, _ := parent.AS.Phys.Refpg_new()
	parent.AS.Insert(0x2000, pa, mem.PTE_U|mem.PTE_W|mem.PTE_SHARED)

	childID, e := Fork(tbl, parent.ID)
	require.Zero(t, e)
	child := tbl.Get(childID)

	_, cperm, ok := child.AS.Lookup(0x2000)
	require.True(t, ok)
	require.NotZero(t, cperm&mem.PTE_W, "expected shared page to remain writable in child")
}

func TestForkChildRunnable(t *testing.T) {
	tbl := newTable()
	parent, _ := tbl.Alloc(0)
	childID, e := Fork(tbl, parent.ID)
	require.Zero(t, e)
	require.Equal(t, env.RUNNABLE, tbl.Get(childID).Status)
}

func TestPgfaultCopiesOnWrite(t *testing.T) {
	tbl := newTable()
	parent, _ := tbl.Alloc(0)
	frame, pa, _ := parent.AS.Phys.Refpg_new()
	frame[0] = 0xAB
	parent.AS.Insert(0x3000, pa, mem.PTE_U|mem.PTE_W)

	childID, _ := Fork(tbl, parent.ID)
	child := tbl.Get(childID)

	require.Zero(t, Pgfault(child, 0x3000, true))

	newPa, perm, ok := child.AS.Lookup(0x3000)
	require.True(t, ok)
	require.NotEqual(t, pa, newPa, "expected child to get a distinct private frame")
	require.Zero(t, perm&mem.PTE_COW)
	require.NotZero(t, perm&mem.PTE_W)
	require.Equal(t, byte(0xAB), child.AS.Phys.Dmap(newPa)[0])
	require.Equal(t, 1, parent.AS.Phys.Refcnt(pa))
}

func TestPgfaultRejectsNonCOWFault(t *testing.T) {
	tbl := newTable()
	e, _ := tbl.Alloc(0)
	_, pa, _ := e.AS.Phys.Refpg_new()
	e.AS.Insert(0x4000, pa, mem.PTE_U|mem.PTE_W)

	require.Equal(t, errs.INVAL, Pgfault(e, 0x4000, true))
}
