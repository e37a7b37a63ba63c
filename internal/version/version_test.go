package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	oldVersion, oldCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = oldVersion, oldCommit })

	tests := []struct {
		name    string
		version string
		commit  string
		want    string
	}{
		{name: "release", version: "1.2.3", want: "carechords 1.2.3 " + runtime.Version()},
		{name: "with commit", version: "1.2.3", commit: "0123456789abcdef", want: "carechords 1.2.3 (0123456789ab) "},
		{name: "short commit", version: "dev", commit: "abc", want: "carechords dev (abc) "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Version, Commit = tt.version, tt.commit
			if got := String(); !strings.HasPrefix(got, tt.want) {
				t.Fatalf("String() = %q, want prefix %q", got, tt.want)
			}
		})
	}
}
