package replay

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var reportPrinter = message.NewPrinter(language.English)

// FormatAmount renders a monetary amount with its locale currency symbol,
// e.g. "€ 1,010.00", for human-facing summaries. Unknown currency codes
// fall back to "<value> <code>". Report lines use plainAmount instead so
// golden fixtures stay byte-stable across locale data updates.
func FormatAmount(value decimal.Decimal, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return plainAmount(value, code)
	}
	f, _ := value.Float64()
	return reportPrinter.Sprintf("%v", currency.NarrowSymbol(unit.Amount(f)))
}

func plainAmount(value decimal.Decimal, code string) string {
	if code == "" {
		return value.StringFixed(2)
	}
	return value.StringFixed(2) + " " + code
}

// Render produces the human-readable run report: one section per terminal
// state, one line per transaction, deterministic for a given report.
func Render(r Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Replay run: %d transactions (%d replayed, %d failed, %d skipped)\n",
		r.Total(), len(r.Replayed), len(r.Failed), len(r.Skipped))

	section := func(title string, outcomes []Outcome, withReason bool) {
		if len(outcomes) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n%s\n", title)
		for _, out := range outcomes {
			fmt.Fprintf(&b, "  #%-6d %-7s %12s", out.OriginalID, out.Kind, plainAmount(out.Amount, out.Currency))
			if out.From != "" || out.To != "" {
				fmt.Fprintf(&b, "  %s -> %s", valueOr(out.From, "?"), valueOr(out.To, "?"))
			}
			if out.NewID != 0 {
				fmt.Fprintf(&b, "  (new id %d)", out.NewID)
			}
			if withReason && out.Reason != "" {
				fmt.Fprintf(&b, "  [%s]", out.Reason)
			}
			b.WriteByte('\n')
		}
	}

	section("REPLAYED", r.Replayed, false)
	section("FAILED", r.Failed, true)
	section("SKIPPED", r.Skipped, true)

	return b.String()
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
