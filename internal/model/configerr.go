package model

import (
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// CueErrDetails flattens a CUE validation error into one human readable line
// per offending field, suitable for logging. Positions are deduplicated so a
// single mistake does not flood the output.
func CueErrDetails(err error) []string {
	if err == nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	for _, e := range cueerrors.Errors(err) {
		msg, args := e.Msg()
		detail := fmt.Sprintf(msg, args...)
		if path := normalizePath(e.Path()); path != "" {
			detail = path + ": " + detail
		}
		if _, ok := seen[detail]; ok {
			continue
		}
		seen[detail] = struct{}{}
		out = append(out, detail)
	}
	return out
}

func normalizePath(p []string) string {
	if len(p) == 0 {
		return ""
	}
	// strip the leading definition (#Config)
	if strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}
