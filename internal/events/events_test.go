package events

import "testing"

func TestKnown(t *testing.T) {
	for _, name := range []string{"emergency.created", "ticket.created", "maintenance.overdue", Wildcard} {
		if !Known(name) {
			t.Errorf("Known(%q) = false, want true", name)
		}
	}
	for _, name := range []string{"", "ticket.exploded", "TICKET.CREATED", TestPing} {
		if Known(name) {
			t.Errorf("Known(%q) = true, want false", name)
		}
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name       string
		subscribed []string
		event      string
		want       bool
	}{
		{"exact match", []string{"ticket.created"}, "ticket.created", true},
		{"no match", []string{"ticket.created"}, "emergency.created", false},
		{"wildcard", []string{Wildcard}, "document.uploaded", true},
		{"wildcard among others", []string{"ticket.created", Wildcard}, "user.invited", true},
		{"empty set matches nothing", nil, "ticket.created", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.subscribed, tt.event); got != tt.want {
				t.Errorf("Matches(%v, %q) = %v, want %v", tt.subscribed, tt.event, got, tt.want)
			}
		})
	}
}

func TestNamesSortedAndKnown(t *testing.T) {
	names := Names()
	if len(names) == 0 {
		t.Fatal("empty vocabulary")
	}
	for i, name := range names {
		if !Known(name) {
			t.Errorf("Names() returned unknown event %q", name)
		}
		if i > 0 && names[i-1] >= name {
			t.Errorf("Names() not sorted at %d: %q >= %q", i, names[i-1], name)
		}
	}
}
