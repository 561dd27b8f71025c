package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// RiskLevel is the ordinal severity assigned to a login attempt.
// Ordering matters: Low < Medium < High < Critical.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// AtLeast reports whether l is at or above the given level
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l >= other
}

// MarshalJSON implements json.Marshaler
func (l RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (l *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Value implements driver.Valuer (stored as text)
func (l RiskLevel) Value() (driver.Value, error) {
	return l.String(), nil
}

// Scan implements sql.Scanner
func (l *RiskLevel) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		parsed, err := ParseRiskLevel(v)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	case []byte:
		return l.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into RiskLevel", value)
	}
}

// ParseRiskLevel converts a string into a RiskLevel
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch s {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	case "critical":
		return RiskCritical, nil
	default:
		return RiskLow, fmt.Errorf("unknown risk level: %q", s)
	}
}

// RiskAssessment is the ephemeral output of the risk scorer.
// Only its level is persisted later, as audit metadata.
type RiskAssessment struct {
	Level           RiskLevel `json:"level"`
	RequiresCaptcha bool      `json:"requires_captcha"`
	Reasons         []string  `json:"reasons"`

	// BotPattern records whether the timing heuristic fired; used to decide
	// whether a bot_detected security event should be written downstream
	BotPattern bool `json:"-"`
}

// AddReason appends a human-readable reason to the assessment
func (a *RiskAssessment) AddReason(reason string) {
	a.Reasons = append(a.Reasons, reason)
}

// Escalate raises the assessment to at least the given level
func (a *RiskAssessment) Escalate(level RiskLevel, reason string) {
	if level > a.Level {
		a.Level = level
	}
	a.RequiresCaptcha = true
	a.AddReason(reason)
}
