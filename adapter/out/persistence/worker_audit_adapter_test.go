package persistence

import (
	"testing"

	"engagement_worker/core/domain"
)

func TestCapStatuses(t *testing.T) {
	counted := make(map[string]bool)
	for _, v := range capStatusValues() {
		counted[v] = true
	}

	tests := []struct {
		status domain.AttemptStatus
		want   bool
	}{
		{domain.AttemptSent, true},
		{domain.AttemptQueued, true},
		{domain.AttemptDryRun, false},
		{domain.AttemptFailed, false},
		{domain.AttemptSkipped, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if counted[string(tt.status)] != tt.want {
				t.Errorf("%s counted = %v, want %v", tt.status, counted[string(tt.status)], tt.want)
			}
		})
	}
}
