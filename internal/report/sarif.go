package report

import (
	"encoding/json"
	"path/filepath"

	"github.com/phobologic/safeoverride/internal/model"
)

// SARIF v2.1.0 schema: see https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json

const (
	sarifSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
	sarifVersion = "2.1.0"
	toolName     = "safeoverride"
)

type sarifReport struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Rules   []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	ShortDescription sarifMessage           `json:"shortDescription"`
	DefaultConfig    sarifRuleDefaultConfig `json:"defaultConfiguration"`
}

type sarifRuleDefaultConfig struct {
	Level string `json:"level"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           *sarifRegion          `json:"region,omitempty"`
}

type sarifArtifactLocation struct {
	URI       string `json:"uri"`
	URIBaseID string `json:"uriBaseId"`
}

type sarifRegion struct {
	StartLine   int `json:"startLine,omitempty"`
	StartColumn int `json:"startColumn,omitempty"`
}

// GenerateSARIF builds a SARIF v2.1.0 document from rep. Every rule in the
// report is listed; E-class rules map to level "error".
func GenerateSARIF(rep *model.Report, version string) ([]byte, error) {
	rules := make([]sarifRule, 0, len(rep.Rules))
	for _, r := range rep.Rules {
		desc := r.Description
		if desc == "" {
			desc = r.Message
		}
		rules = append(rules, sarifRule{
			ID:               r.ID,
			Name:             r.Symbol,
			ShortDescription: sarifMessage{Text: desc},
			DefaultConfig:    sarifRuleDefaultConfig{Level: levelFor(r.ID)},
		})
	}

	results := make([]sarifResult, 0, len(rep.Diagnostics))
	for _, d := range rep.Diagnostics {
		result := sarifResult{
			RuleID:  d.RuleID,
			Level:   levelFor(d.RuleID),
			Message: sarifMessage{Text: d.Message},
		}
		if d.File != "" {
			loc := sarifLocation{
				PhysicalLocation: sarifPhysicalLocation{
					ArtifactLocation: sarifArtifactLocation{
						URI:       filepath.ToSlash(d.File),
						URIBaseID: "%SRCROOT%",
					},
				},
			}
			if d.Line > 0 {
				loc.PhysicalLocation.Region = &sarifRegion{
					StartLine:   d.Line,
					StartColumn: d.Column,
				}
			}
			result.Locations = []sarifLocation{loc}
		}
		results = append(results, result)
	}

	report := sarifReport{
		Schema:  sarifSchema,
		Version: sarifVersion,
		Runs: []sarifRun{
			{
				Tool: sarifTool{
					Driver: sarifDriver{
						Name:    toolName,
						Version: version,
						Rules:   rules,
					},
				},
				Results: results,
			},
		},
	}

	return json.MarshalIndent(report, "", "  ")
}

func levelFor(ruleID string) string {
	if len(ruleID) > 0 && (ruleID[0] == 'E' || ruleID[0] == 'F') {
		return "error"
	}
	return "warning"
}
