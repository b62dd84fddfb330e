package models

import "testing"

func TestPriority_Valid(t *testing.T) {
	tests := []struct {
		name     string
		priority Priority
		want     bool
	}{
		{"low is valid", PriorityLow, true},
		{"medium is valid", PriorityMedium, true},
		{"high is valid", PriorityHigh, true},
		{"urgent is valid", PriorityUrgent, true},
		{"empty string is invalid", Priority(""), false},
		{"uppercase is invalid", Priority("HIGH"), false},
		{"unknown is invalid", Priority("critical"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.priority.Valid(); got != tt.want {
				t.Errorf("Priority(%q).Valid() = %v, want %v", tt.priority, got, tt.want)
			}
		})
	}
}

func TestPriority_OrDefault(t *testing.T) {
	if got := Priority("").OrDefault(); got != PriorityMedium {
		t.Errorf("empty priority default = %q, want %q", got, PriorityMedium)
	}
	if got := PriorityUrgent.OrDefault(); got != PriorityUrgent {
		t.Errorf("urgent.OrDefault() = %q, want %q", got, PriorityUrgent)
	}
}

func TestPriority_Rank(t *testing.T) {
	if !(PriorityLow.Rank() < PriorityMedium.Rank() &&
		PriorityMedium.Rank() < PriorityHigh.Rank() &&
		PriorityHigh.Rank() < PriorityUrgent.Rank()) {
		t.Error("priorities are not ranked low < medium < high < urgent")
	}
	if Priority("bogus").Rank() != -1 {
		t.Error("unknown priority should rank -1")
	}
}
