// Package report renders analysis results as text, JSON, SARIF or TOON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/phobologic/safeoverride/internal/model"
	"github.com/phobologic/safeoverride/internal/toon"
)

// Write renders rep to w in the named format.
func Write(w io.Writer, format, version string, rep *model.Report) error {
	switch format {
	case "", "text":
		return writeText(w, rep)
	case "json":
		return writeJSON(w, rep)
	case "sarif":
		data, err := GenerateSARIF(rep, version)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "toon":
		_, err := fmt.Fprintln(w, toon.Encode(rep))
		return err
	}
	return fmt.Errorf("unknown format %q", format)
}

// FormatText renders one diagnostic in the conventional
// "path:line:col: ID: message (symbol)" layout.
func FormatText(d model.Diagnostic) string {
	return fmt.Sprintf("%s:%d:%d: %s: %s (%s)",
		filepath.ToSlash(d.File), d.Line, d.Column, d.RuleID, d.Message, d.Symbol)
}

func writeText(w io.Writer, rep *model.Report) error {
	for _, d := range rep.Diagnostics {
		if _, err := fmt.Fprintln(w, FormatText(d)); err != nil {
			return err
		}
	}
	return nil
}

type jsonDiagnostic struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	RuleID  string `json:"message-id"`
	Symbol  string `json:"symbol"`
	Class   string `json:"class"`
	Method  string `json:"method"`
	Message string `json:"message"`
}

func writeJSON(w io.Writer, rep *model.Report) error {
	out := make([]jsonDiagnostic, 0, len(rep.Diagnostics))
	for _, d := range rep.Diagnostics {
		out = append(out, jsonDiagnostic{
			Path:    filepath.ToSlash(d.File),
			Line:    d.Line,
			Column:  d.Column,
			RuleID:  d.RuleID,
			Symbol:  d.Symbol,
			Class:   d.Class,
			Method:  d.Method,
			Message: d.Message,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
