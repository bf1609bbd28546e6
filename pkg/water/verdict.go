package water

import (
	"fmt"
	"strings"
)

// Severity grades an anomaly verdict or event flag.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

var severityNames = [...]string{"none", "low", "medium", "high"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity is the inverse of Severity.String.
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(n, name) {
			return Severity(i), nil
		}
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", name)
}

// MarshalText encodes the severity as its name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Verdict is the graded outcome of one anomaly check.
type Verdict struct {
	IsAnomaly bool     `json:"is_anomaly"`
	Severity  Severity `json:"severity"`
	Reason    string   `json:"reason"`
}

// NewVerdict builds a verdict whose IsAnomaly follows from the severity.
func NewVerdict(s Severity, reason string) Verdict {
	return Verdict{IsAnomaly: s != SeverityNone, Severity: s, Reason: reason}
}
