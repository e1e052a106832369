package version

import (
	"strings"
	"testing"
)

func TestUserAgentAndLong(t *testing.T) {
	if got := UserAgent(); got != "llamarisk/"+CLIVersion {
		t.Fatalf("unexpected user agent %q", got)
	}
	long := Long()
	if !strings.HasPrefix(long, CLIVersion+" (commit: ") || !strings.Contains(long, "go") {
		t.Fatalf("unexpected long version %q", long)
	}
}
