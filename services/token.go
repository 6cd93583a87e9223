package services

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// EmptyToken ist das Ergebnis für leere Eingaben oder Eingaben ohne Buchstaben/Ziffern.
// Überall, wo ein echter Token gebraucht wird, wird er abgelehnt.
const EmptyToken = ""

// Ligaturen und Buchstaben, die NFKD nicht zerlegt.
var ligatureReplacer = strings.NewReplacer(
	"ﬁ", "fi",
	"ﬂ", "fl",
	"ﬀ", "ff",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
	"ﬆ", "st",
	"œ", "oe",
	"æ", "ae",
	"ø", "o",
	"đ", "d",
	"ł", "l",
)

func isApostrophe(r rune) bool {
	switch r {
	case '\'', '`', '´', '‘', '’', 'ʼ', '′':
		return true
	}
	return false
}

// Normalize bildet einen freien Wirkstoffnamen auf seinen Lookup-Token ab.
//
// Regeln, identisch beim Schreiben (Aliase) und Lesen (Suche):
//   - Case-Folding (Unicode), Ligaturen aufgelöst
//   - Diakritika entfernt (NFKD, Nonspacing Marks gelöscht)
//   - Apostrophe ersatzlos entfernt: "John's" -> "johns"
//   - jede andere Folge aus Nicht-Buchstaben/Ziffern wird ein einzelnes Leerzeichen
//   - kein führendes oder abschließendes Leerzeichen
//
// Normalize ist idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	s := text
	// Fixpunkt-Iteration: Folding nach Zerlegung kann erneut Großbuchstaben oder Marks
	// auflösen (z.B. U+210C). Praktisch stabil nach zwei Durchläufen.
	for i := 0; i < 8; i++ {
		next := normalizeOnce(s)
		if next == s {
			return next
		}
		s = next
	}
	return s
}

func normalizeOnce(text string) string {
	t := transform.Chain(
		runes.Remove(runes.Predicate(isApostrophe)),
		cases.Fold(),
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = strings.ToLower(text)
	}
	folded = ligatureReplacer.Replace(folded)

	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// CompactKey entfernt alle Trennzeichen aus einem Token. Nur für Vorschläge bei
// fehlenden Aliasen gedacht ("vitamin k 2" und "vitamin k2" -> "vitamink2"), nie für Lookups.
func CompactKey(token string) string {
	return strings.ReplaceAll(token, " ", "")
}
