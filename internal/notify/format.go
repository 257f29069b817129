package notify

import (
	"fmt"
	"strings"

	"github.com/user/docchat/internal/reconcile"
	"github.com/user/docchat/internal/types"
)

// Format renders a transition as a single human-readable message.
func Format(t reconcile.Transition) string {
	name := t.Name
	if name == "" {
		name = string(t.Key)
	}

	var b strings.Builder
	switch t.To {
	case types.StatusCompleted:
		fmt.Fprintf(&b, "Document %s processed", name)
		if t.Summary != "" {
			fmt.Fprintf(&b, ": %s", t.Summary)
		}
	case types.StatusFailed:
		fmt.Fprintf(&b, "Document %s failed", name)
		if t.Error != "" {
			fmt.Fprintf(&b, ": %s", t.Error)
		}
	default:
		fmt.Fprintf(&b, "Document %s is %s", name, t.To)
	}
	return b.String()
}
