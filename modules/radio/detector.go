package radio

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Mode is the polling cadence the detector recommends.
type Mode int

const (
	// ModeLazy polls at the slow interval; the current track looks stable.
	ModeLazy Mode = iota
	// ModeActive polls at the fast interval; a track boundary is expected
	// soon.
	ModeActive
)

func (m Mode) String() string {
	switch m {
	case ModeLazy:
		return "lazy"
	case ModeActive:
		return "active"
	default:
		return "unknown"
	}
}

// Decision is the outcome of evaluating one metadata reading.
type Decision struct {
	// Normalized is the comparable form of the reading, fed back in as
	// prevNormalized on the next evaluation.
	Normalized string
	// Announce is true when the reading is a genuine track change.
	Announce bool
	// RepeatCount is how many consecutive readings matched Normalized.
	RepeatCount int
	// Mode is the recommended polling cadence.
	Mode Mode
}

// Titles arrive with every dash variant stations can type. They all compare
// equal.
var dashFolder = strings.NewReplacer(
	"‐", "-", // hyphen
	"‑", "-", // non-breaking hyphen
	"‒", "-", // figure dash
	"–", "-", // en dash
	"—", "-", // em dash
	"―", "-", // horizontal bar
	"−", "-", // minus sign
)

// Normalize maps a raw title to its comparable form: Unicode NFC, case
// folding, dash folding, and whitespace collapsed to single spaces.
func Normalize(raw string) string {
	s := norm.NFC.String(raw)
	s = cases.Fold().String(s)
	s = dashFolder.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Evaluate classifies one metadata reading against the previous normalized
// title. It is a pure function; the caller owns all state.
//
// A blank reading is a missed read: the inputs are echoed back unchanged so
// repeated failures neither announce nor disturb the repeat count. A reading
// equal to the previous one bumps the repeat count and, once the count
// reaches threshold in lazy mode, recommends active polling. A different
// reading announces, resets the count, and drops back to lazy.
func Evaluate(raw, prevNormalized string, repeatCount int, mode Mode, threshold int) Decision {
	if strings.TrimSpace(raw) == "" {
		return Decision{
			Normalized:  prevNormalized,
			Announce:    false,
			RepeatCount: repeatCount,
			Mode:        mode,
		}
	}

	normalized := Normalize(raw)
	if normalized == prevNormalized {
		repeatCount++
		if mode == ModeLazy && threshold > 0 && repeatCount >= threshold {
			mode = ModeActive
		}
		return Decision{
			Normalized:  normalized,
			Announce:    false,
			RepeatCount: repeatCount,
			Mode:        mode,
		}
	}

	return Decision{
		Normalized:  normalized,
		Announce:    true,
		RepeatCount: 0,
		Mode:        ModeLazy,
	}
}
