// Package bonification implements the Bonification Processor (C6):
// order-grouped line renumbering that links bonus lines to the regular
// lines they reference (spec §4.6).
package bonification

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/heriberto777/transferengine/record"
	"github.com/heriberto777/transferengine/store"
)

// Config is store.BonificationConfig renamed locally for readability;
// kept as a type alias so callers can pass the stored config directly.
type Config = store.BonificationConfig

// Result is the processed output for one execution's worth of orders.
type Result struct {
	Rows                []record.Row
	Diagnostics         []record.Diagnostic
	OrphanBonifications int
}

// Processor runs the two-pass algorithm, guarding against an order being
// processed twice within a single execution (spec invariant I7(d)).
type Processor struct {
	cfg       Config
	processed map[string]bool
}

func New(cfg Config) *Processor {
	return &Processor{cfg: cfg, processed: make(map[string]bool)}
}

// ProcessOrder runs one order's rows through the two-pass renumbering.
// Rows must already be the full set for this order; ProcessOrder sorts
// them by lineOrderField ascending as step 1 requires. Calling this twice
// for the same orderID within the Processor's lifetime is a no-op on the
// second call (idempotency guard).
func (p *Processor) ProcessOrder(orderID string, rows []record.Row) Result {
	if p.processed[orderID] {
		return Result{}
	}
	p.processed[orderID] = true

	sorted := make([]record.Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return numeric(sorted[i][p.cfg.LineOrderField]) < numeric(sorted[j][p.cfg.LineOrderField])
	})

	// First pass: walk in order assigning the same sequential counter
	// every row will get in the second pass, recording regularArticleCode
	// -> finalLineNumber only for regular rows. Both passes must advance
	// this counter over every row (bonus included) so the recorded line
	// number matches each regular article's true final line — a second,
	// independently-incrementing regular-only counter would fall out of
	// sync whenever a bonus row sorts ahead of a later regular row.
	regularLineByCode := make(map[string]int)
	line := 1
	for _, row := range sorted {
		if !isBonus(row, p.cfg) {
			code := fmt.Sprintf("%v", row[p.cfg.RegularArticleField])
			regularLineByCode[code] = line
		}
		line++
	}

	out := make([]record.Row, 0, len(sorted))
	var diagnostics []record.Diagnostic
	orphans := 0

	// Second pass: assign the final sequential line number to every row,
	// and resolve bonus-line references against the first pass's map.
	final := 1
	for _, row := range sorted {
		r := row.Clone()
		r[p.cfg.LineNumberField] = final
		final++

		r[p.cfg.QuantityField] = sanitizeQuantity(r[p.cfg.QuantityField])

		if isBonus(row, p.cfg) {
			refCode := fmt.Sprintf("%v", row[p.cfg.BonificationReferenceField])
			if lineNum, ok := regularLineByCode[refCode]; ok {
				r[p.cfg.BonificationLineReferenceField] = lineNum
			} else {
				r[p.cfg.BonificationLineReferenceField] = nil
				orphans++
				diagnostics = append(diagnostics, record.Diagnostic{
					Reason: record.ReasonBonificationOrphan,
					Field:  p.cfg.BonificationReferenceField,
					Detail: fmt.Sprintf("REFERENCIA_NO_ENCONTRADA(%s)", refCode),
				})
			}
			delete(r, p.cfg.BonificationReferenceField)
		} else {
			r[p.cfg.BonificationLineReferenceField] = nil
		}

		out = append(out, r)
	}

	return Result{Rows: out, Diagnostics: diagnostics, OrphanBonifications: orphans}
}

func isBonus(row record.Row, cfg Config) bool {
	v, ok := row[cfg.BonificationIndicatorField]
	if !ok {
		return false
	}
	return fmt.Sprintf("%v", v) == cfg.BonificationIndicatorValue
}

// sanitizeQuantity applies spec §4.6 step 5: non-numeric and null/undefined
// become 0; a valid number (possibly negative) passes through unchanged.
func sanitizeQuantity(v any) float64 {
	switch val := v.(type) {
	case nil:
		return 0
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case string:
		n, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func numeric(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case string:
		n, _ := strconv.ParseFloat(val, 64)
		return n
	default:
		return 0
	}
}
