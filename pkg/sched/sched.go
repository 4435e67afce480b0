// Package sched implements the cooperative round-robin scheduler over the
// environment table (spec.md §4.2, §5: single CPU, non-preemptive kernel).
package sched

import "exovisor/pkg/env"

// / Scheduler walks the environment table starting just after the
// / currently-running slot and hands control to the next RUNNABLE one.
type Scheduler struct {
	Table *env.Table
}

// / New creates a scheduler over tbl.
func New(tbl *env.Table) *Scheduler {
	return &Scheduler{Table: tbl}
}

// / Yield advances from the current environment and returns the next
// / RUNNABLE environment to run, or nil if none are runnable (the caller
// / halts, per spec.md §4.2).
func (s *Scheduler) Yield() *env.Env_t {
	all := s.Table.All()
	if len(all) == 0 {
		s.Table.SetCurID(0)
		return nil
	}

	cur := s.Table.CurID()
	start := 0
	for i, e := range all {
		if e.ID == cur {
			start = i + 1
			break
		}
	}

	for i := 0; i < len(all); i++ {
		e := all[(start+i)%len(all)]
		if e.Status == env.RUNNABLE {
			s.Table.SetCurID(e.ID)
			return e
		}
	}
	return nil
}
