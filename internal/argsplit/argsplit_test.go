package argsplit_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/FollowTheProcess/capsules/internal/argsplit"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{
			name: "simple",
			in:   "--capsule_id build --placebo",
			want: []string{"--capsule_id", "build", "--placebo"},
		},
		{
			name: "single quoted preserves spaces",
			in:   `--inputs 'src/**/*.go'`,
			want: []string{"--inputs", "src/**/*.go"},
		},
		{
			name: "double quoted allows escapes",
			in:   `--label "a \"quoted\" value"`,
			want: []string{"--label", `a "quoted" value`},
		},
		{
			name: "backslash escapes a single rune outside quotes",
			in:   `--path foo\ bar`,
			want: []string{"--path", "foo bar"},
		},
		{
			name: "empty string yields no words",
			in:   "",
			want: nil,
		},
		{
			name: "collapses repeated whitespace",
			in:   "--a   --b\t--c",
			want: []string{"--a", "--b", "--c"},
		},
		{
			name:    "unterminated single quote is an error",
			in:      `--inputs 'src/**/*.go`,
			wantErr: true,
		},
		{
			name:    "unterminated double quote is an error",
			in:      `--label "unterminated`,
			wantErr: true,
		},
		{
			name:    "dangling backslash is an error",
			in:      `--path foo\`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := argsplit.Split(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got none (result: %v)", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Split returned an unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Split(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}
