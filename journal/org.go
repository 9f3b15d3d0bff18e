package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/tracker/market"
)

// FormatConflictOrg renders a staged conflict as an Org-mode block. Both
// versions go in PROPERTIES drawers; the Decision heading is left for
// whoever resolves it.
func FormatConflictOrg(c market.Conflict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** Conflict: %s (%s)\n", c.Local.Instrument, shortID(c.ID))
	fmt.Fprintf(&b, ":PROPERTIES:\n:ID: %s\n:DETECTED: %s\n:END:\n\n", c.ID, c.Detected.UTC().Format(time.RFC3339))
	writeVersionOrg(&b, "Local", c.Local)
	if c.Reason != "" {
		fmt.Fprintf(&b, "*** Refused\n%s\n\n", c.Reason)
	} else {
		writeVersionOrg(&b, "Remote", c.Remote)
	}
	b.WriteString("*** Decision\n- \n")
	return b.String()
}

// FormatConflictsOrg renders multiple conflicts separated by blank lines.
func FormatConflictsOrg(cs []market.Conflict) string {
	var b strings.Builder
	for i, c := range cs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatConflictOrg(c))
	}
	return b.String()
}

func writeVersionOrg(b *strings.Builder, name string, t market.Transaction) {
	fmt.Fprintf(b, "*** %s\n:PROPERTIES:\n", name)
	fmt.Fprintf(b, ":ACCOUNT: %s\n", t.Account)
	fmt.Fprintf(b, ":INSTRUMENT: %s\n", t.Instrument)
	fmt.Fprintf(b, ":QUANTITY: %s\n", t.Quantity.String())
	fmt.Fprintf(b, ":PRICE: %s\n", t.Price.String())
	fmt.Fprintf(b, ":TIME: %s\n", t.Time.UTC().Format(time.RFC3339))
	fmt.Fprintf(b, ":REVISION: %d\n", t.Revision)
	b.WriteString(":END:\n\n")
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
