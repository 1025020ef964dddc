package ipam

import (
	"testing"

	"pgregory.net/rapid"
)

// Random interleavings of pool operations checked against a plain map model.
func TestPool_Model(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 16).Draw(t, "size")
		candidates := make([]int, size)
		for i := range candidates {
			candidates[i] = 100 + i
		}
		p := New(candidates)
		model := make(map[int]Status, size)

		steps := rapid.IntRange(1, 64).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			v := rapid.IntRange(99, 100+size).Draw(t, "value")
			switch rapid.IntRange(0, 4).Draw(t, "op") {
			case 0:
				got, err := p.Reserve()
				want, ok := lowestFree(candidates, model)
				if !ok {
					if err == nil {
						t.Fatalf("Reserve() = %d, want ErrExhausted", got)
					}
					continue
				}
				if err != nil || got != want {
					t.Fatalf("Reserve() = %d, %v, want %d", got, err, want)
				}
				model[got] = Reserved
			case 1:
				p.Release(v)
				if model[v] == Reserved {
					delete(model, v)
				}
			case 2:
				err := p.Confirm(v)
				if model[v] == Reserved && p.Contains(v) {
					if err != nil {
						t.Fatalf("Confirm(%d): %v", v, err)
					}
					model[v] = InUse
				} else if err == nil {
					t.Fatalf("Confirm(%d) should fail in state %v", v, model[v])
				}
			case 3:
				p.Free(v)
				if model[v] == InUse {
					delete(model, v)
				}
			case 4:
				err := p.ReserveValue(v)
				if p.Contains(v) && model[v] == Free {
					if err != nil {
						t.Fatalf("ReserveValue(%d): %v", v, err)
					}
					model[v] = Reserved
				} else if err == nil {
					t.Fatalf("ReserveValue(%d) should fail", v)
				}
			}
		}

		var want Stats
		want.Total = size
		for _, c := range candidates {
			got, _ := p.State(c)
			if got != model[c] {
				t.Fatalf("State(%d) = %v, model says %v", c, got, model[c])
			}
			switch model[c] {
			case Free:
				want.Free++
			case Reserved:
				want.Reserved++
			case InUse:
				want.InUse++
			}
		}
		if got := p.Stats(); got != want {
			t.Fatalf("Stats() = %+v, want %+v", got, want)
		}
	})
}

// Reconcile never frees a reservation and never frees a value confirmed
// after the checkpoint.
func TestPool_ReconcileKeepsRecent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(2, 12).Draw(t, "size")
		candidates := make([]int, size)
		for i := range candidates {
			candidates[i] = i
		}
		p := New(candidates)

		before := rapid.IntRange(0, size/2).Draw(t, "before")
		for i := 0; i < before; i++ {
			v, _ := p.Reserve()
			_ = p.Confirm(v)
		}
		cp := p.Checkpoint()

		reserved, err := p.Reserve()
		if err != nil {
			t.Fatalf("Reserve() with %d of %d taken: %v", before, size, err)
		}
		var late []int
		for {
			v, err := p.Reserve()
			if err != nil || rapid.Bool().Draw(t, "stop") {
				break
			}
			_ = p.Confirm(v)
			late = append(late, v)
		}

		p.Reconcile(cp, nil)

		if s, _ := p.State(reserved); s != Reserved {
			t.Fatalf("State(%d) = %v, want reserved", reserved, s)
		}
		for _, v := range late {
			if s, _ := p.State(v); s != InUse {
				t.Fatalf("State(%d) = %v, want in-use", v, s)
			}
		}
		if got := p.Stats().InUse; got != len(late) {
			t.Fatalf("in-use = %d, want %d", got, len(late))
		}
	})
}

func lowestFree(candidates []int, model map[int]Status) (int, bool) {
	for _, c := range candidates {
		if model[c] == Free {
			return c, true
		}
	}
	return 0, false
}
