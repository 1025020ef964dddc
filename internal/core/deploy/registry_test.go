package deploy

import (
	"testing"
	"time"

	"github.com/melih/lab-agent/internal/core/domain"
)

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Put(domain.DeploymentRecord{ID: "abcdef0123456789aaaa", Name: "web", Created: base})
	r.Put(domain.DeploymentRecord{ID: "abcdef0123456789bbbb", Name: "db", Created: base.Add(time.Second)})
	r.Put(domain.DeploymentRecord{ID: "99990000111122223333", Name: "cache", Created: base.Add(2 * time.Second)})

	tests := []struct {
		name   string
		ref    string
		wantID string
		wantOK bool
	}{
		{name: "full id", ref: "abcdef0123456789aaaa", wantID: "abcdef0123456789aaaa", wantOK: true},
		{name: "name", ref: "db", wantID: "abcdef0123456789bbbb", wantOK: true},
		{name: "unique prefix", ref: "999900001111", wantID: "99990000111122223333", wantOK: true},
		{name: "ambiguous prefix", ref: "abcdef012345"},
		{name: "short prefix", ref: "9999"},
		{name: "unknown", ref: "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := r.Lookup(tt.ref)
			if ok != tt.wantOK {
				t.Fatalf("Lookup(%q) ok = %v, want %v", tt.ref, ok, tt.wantOK)
			}
			if ok && rec.ID != tt.wantID {
				t.Errorf("Lookup(%q) = %q, want %q", tt.ref, rec.ID, tt.wantID)
			}
		})
	}
}

func TestRegistry_ListAndDelete(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Put(domain.DeploymentRecord{ID: "c", Name: "late", Created: base.Add(time.Minute)})
	r.Put(domain.DeploymentRecord{ID: "b", Name: "zeta", Created: base})
	r.Put(domain.DeploymentRecord{ID: "a", Name: "alpha", Created: base})

	list := r.List()
	var names []string
	for _, rec := range list {
		names = append(names, rec.Name)
	}
	if want := []string{"alpha", "zeta", "late"}; len(names) != 3 || names[0] != want[0] || names[1] != want[1] || names[2] != want[2] {
		t.Errorf("List() order = %v, want %v", names, want)
	}

	if r.Claim("zeta") {
		t.Error("Claim(zeta) should fail while a record holds the name")
	}
	if rec, ok := r.Delete("b"); !ok || rec.Name != "zeta" {
		t.Errorf("Delete(b) = %+v, %v", rec, ok)
	}
	if _, ok := r.Delete("b"); ok {
		t.Error("second Delete should report false")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistry_Claim(t *testing.T) {
	r := NewRegistry()

	if !r.Claim("web") {
		t.Fatal("first Claim(web) should succeed")
	}
	if r.Claim("web") {
		t.Error("second Claim(web) should fail while the first is pending")
	}

	r.Put(domain.DeploymentRecord{ID: "abc", Name: "web"})
	r.Unclaim("web")
	if r.Claim("web") {
		t.Error("Claim(web) should fail once a record holds the name")
	}

	r.Delete("abc")
	if !r.Claim("web") {
		t.Error("Claim(web) should succeed after the record is gone")
	}
}
