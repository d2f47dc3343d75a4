package threat

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sage-sh/sage/internal/artifact"
)

// stringOrArray handles match_on, which accepts either a bare scalar or a
// YAML sequence — the same progressive shape the rule corpus uses for
// simple vs. multi-valued fields.
type stringOrArray []string

func (s *stringOrArray) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			return fmt.Errorf("empty match_on value not allowed")
		}
		*s = []string{node.Value}
		return nil
	case yaml.SequenceNode:
		var arr []string
		if err := node.Decode(&arr); err != nil {
			return err
		}
		if len(arr) == 0 {
			return fmt.Errorf("empty match_on list not allowed")
		}
		*s = arr
		return nil
	default:
		return fmt.Errorf("match_on must be a string or list, got kind %v", node.Kind)
	}
}

// ruleYAML is the on-disk shape of one threat entry, per spec §6's
// "Threat YAML files" table.
type ruleYAML struct {
	ID         string        `yaml:"id"`
	Category   string        `yaml:"category"`
	Severity   string        `yaml:"severity"`
	Confidence float64       `yaml:"confidence"`
	Action     string        `yaml:"action"`
	Pattern    string        `yaml:"pattern"`
	MatchOn    stringOrArray `yaml:"match_on"`
	Title      string        `yaml:"title"`
	ExpiresAt  *time.Time    `yaml:"expires_at,omitempty"`
	Revoked    bool          `yaml:"revoked,omitempty"`
}

// fileYAML is a threat YAML file: a mapping whose "threats" key lists the
// rule entries.
type fileYAML struct {
	Threats []ruleYAML `yaml:"threats"`
}

// matchOnType maps a YAML match_on token to the artifact type it governs.
// "domain" is routed to url artifacts per §4.1/§4.3: domains only ever show
// up as part of a url artifact's value.
func matchOnType(token string) (artifact.Type, bool) {
	switch token {
	case "command":
		return artifact.TypeCommand, true
	case "url", "domain":
		return artifact.TypeURL, true
	case "content":
		return artifact.TypeContent, true
	case "file_path":
		return artifact.TypeFilePath, true
	default:
		return "", false
	}
}

func validSeverity(s string) bool {
	switch Severity(s) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

func validAction(a string) bool {
	switch Action(a) {
	case ActionBlock, ActionRequireApproval, ActionLog:
		return true
	}
	return false
}
