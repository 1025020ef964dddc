package deploy

import (
	"context"
	"testing"

	"github.com/melih/lab-agent/internal/core/domain"
	"github.com/melih/lab-agent/internal/core/ipam"
)

func TestSweep(t *testing.T) {
	e, rt := newTestExecutor(t, "192.168.100.2", "192.168.100.10")
	recs := deployN(t, e, "running", "exited", "gone")
	rt.SetState(recs[1].ID, domain.StateExited)
	rt.Vanish(recs[2].ID)

	res, err := e.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Removed != 1 || res.Forgotten != 1 {
		t.Errorf("Sweep() = %+v, want 1 removed and 1 forgotten", res)
	}
	if rt.Running() != 1 {
		t.Errorf("running = %d, want 1", rt.Running())
	}
	for _, r := range recs[1:] {
		if addrState(t, e, r.Address.String()) != ipam.Free {
			t.Errorf("address %s should be free", r.Address)
		}
	}
	if addrState(t, e, recs[0].Address.String()) != ipam.InUse {
		t.Error("running container keeps its address")
	}
}

func TestNewReaper(t *testing.T) {
	e, _ := newTestExecutor(t, "192.168.100.2", "192.168.100.10")

	if _, err := NewReaper(e, "whenever"); err == nil {
		t.Error("NewReaper should reject an invalid schedule")
	}

	r, err := NewReaper(e, "@every 60s")
	if err != nil {
		t.Fatalf("NewReaper: %v", err)
	}
	r.Start()
	r.Stop()
}
