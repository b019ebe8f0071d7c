package extract

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// normalizeText folds text to NFC and collapses runs of whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
