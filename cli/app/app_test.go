package app

import "testing"

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		wantOwn []string
		wantCmd []string
	}{
		{
			name:    "no dash",
			argv:    []string{"--capsule_id", "build"},
			wantOwn: []string{"--capsule_id", "build"},
			wantCmd: nil,
		},
		{
			name:    "with command",
			argv:    []string{"-c", "build", "--", "go", "build", "./..."},
			wantOwn: []string{"-c", "build"},
			wantCmd: []string{"go", "build", "./..."},
		},
		{
			name:    "empty command after dash",
			argv:    []string{"-c", "build", "--"},
			wantOwn: []string{"-c", "build"},
			wantCmd: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotOwn, gotCmd := splitCommand(tt.argv)
			if !equalSlices(gotOwn, tt.wantOwn) {
				t.Errorf("own args: got %v, want %v", gotOwn, tt.wantOwn)
			}
			if !equalSlices(gotCmd, tt.wantCmd) {
				t.Errorf("command: got %v, want %v", gotCmd, tt.wantCmd)
			}
		})
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
