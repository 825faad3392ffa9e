// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/phobologic/safeoverride/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode converts a Report into TOON format.
func Encode(rep *model.Report) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("root: %s", encodeValue(rep.Root)))
	parts = append(parts, fmt.Sprintf("files: %d", rep.Files))

	var ruleRows [][]string
	for i := range rep.Rules {
		r := &rep.Rules[i]
		ruleRows = append(ruleRows, []string{r.ID, r.Symbol, r.Message})
	}
	parts = append(parts, formatTabular("rules", []string{"id", "symbol", "message"}, ruleRows))

	var diagRows [][]string
	for i := range rep.Diagnostics {
		d := &rep.Diagnostics[i]
		diagRows = append(diagRows, []string{
			d.File,
			fmt.Sprintf("%d", d.Line),
			fmt.Sprintf("%d", d.Column),
			d.RuleID,
			d.Class,
			d.Method,
		})
	}
	parts = append(parts, formatTabular("diagnostics",
		[]string{"file", "line", "column", "rule", "class", "method"}, diagRows))

	return strings.Join(parts, "\n")
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
