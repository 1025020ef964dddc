package domain

// Segment is the L2 network guest containers attach to.
type Segment struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Driver  string `json:"driver"`
	Subnet  string `json:"subnet"`
	Gateway string `json:"gateway"`
	Parent  string `json:"parent,omitempty"`
}

// NeedsParent reports whether the driver binds to a host interface.
func (s Segment) NeedsParent() bool {
	return s.Driver == "macvlan" || s.Driver == "ipvlan"
}

// Member is a container currently attached to the segment.
type Member = Container
