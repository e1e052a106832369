// Package policy gates command paths behind the --enable-commands allowlist.
package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/llamarisk/internal/errors"
)

// alwaysAllowed stay reachable under any allowlist so agents can discover the surface.
var alwaysAllowed = map[string]bool{
	"schema":  true,
	"version": true,
}

// CheckCommandAllowed allows commandPath when the allowlist is empty, or when an entry
// names the command or one of its parents ("revenue" allows "revenue epochs").
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	path := normalize(commandPath)
	if alwaysAllowed[path] {
		return nil
	}
	for _, allowed := range allowlist {
		entry := normalize(allowed)
		if entry == "" {
			continue
		}
		if entry == path || strings.HasPrefix(path, entry+" ") {
			return nil
		}
	}
	return clierr.Newf(clierr.CodeBlocked, "command %q blocked by --enable-commands policy", path)
}

func normalize(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}
