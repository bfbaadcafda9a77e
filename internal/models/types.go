package models

import "fmt"

// Type is the closed enumeration of notification categories.
type Type string

const (
	TypeInfo                   Type = "info"
	TypeSystem                 Type = "system"
	TypeMessage                Type = "message"
	TypeAssignment             Type = "assignment"
	TypeEvent                  Type = "event"
	TypeJobFilled              Type = "job_filled"
	TypeApplicationSubmitted   Type = "application_submitted"
	TypeApplicationReviewed    Type = "application_reviewed"
	TypeApplicationShortlisted Type = "application_shortlisted"
	TypeApplicationInterview   Type = "application_interview"
	TypeApplicationHired       Type = "application_hired"
	TypeApplicationRejected    Type = "application_rejected"
)

// AllTypes lists every known Type in a stable order.
var AllTypes = []Type{
	TypeInfo,
	TypeSystem,
	TypeMessage,
	TypeAssignment,
	TypeEvent,
	TypeJobFilled,
	TypeApplicationSubmitted,
	TypeApplicationReviewed,
	TypeApplicationShortlisted,
	TypeApplicationInterview,
	TypeApplicationHired,
	TypeApplicationRejected,
}

// ParseType resolves a raw type string. Empty resolves to TypeInfo.
func ParseType(raw string) (Type, error) {
	if raw == "" {
		return TypeInfo, nil
	}
	t := Type(raw)
	if !t.Valid() {
		return "", fmt.Errorf("unknown notification type %q", raw)
	}
	return t, nil
}

func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t Type) String() string { return string(t) }

// TypeNames returns AllTypes as strings, e.g. for JSON schema enums.
func TypeNames() []string {
	out := make([]string, len(AllTypes))
	for i, t := range AllTypes {
		out[i] = string(t)
	}
	return out
}
