package preferences

import (
	"fmt"
	"sort"
	"strings"

	"notification-hub/internal/models"
)

// AlwaysAllowed marks a type that no preference can suppress.
const AlwaysAllowed = ""

// KeyTable maps every notification type to the preference key that controls it.
type KeyTable map[models.Type]string

// DefaultKeyTable returns the built-in mapping. Application status changes use
// per-status keys; job_filled shares the coarse job_updates key.
func DefaultKeyTable() KeyTable {
	return KeyTable{
		models.TypeInfo:                   "info",
		models.TypeSystem:                 AlwaysAllowed,
		models.TypeMessage:                "message",
		models.TypeAssignment:             "assignment",
		models.TypeEvent:                  "event",
		models.TypeJobFilled:              "job_updates",
		models.TypeApplicationSubmitted:   "application_submitted",
		models.TypeApplicationReviewed:    "application_reviewed",
		models.TypeApplicationShortlisted: "application_shortlisted",
		models.TypeApplicationInterview:   "application_interview",
		models.TypeApplicationHired:       "application_hired",
		models.TypeApplicationRejected:    "application_rejected",
	}
}

// NewKeyTable applies overrides (type name -> key, "" for always allowed) to the
// default table and verifies the result covers every known type.
func NewKeyTable(overrides map[string]string) (KeyTable, error) {
	table := DefaultKeyTable()
	for rawType, key := range overrides {
		t := models.Type(strings.ToLower(strings.TrimSpace(rawType)))
		if !t.Valid() {
			return nil, fmt.Errorf("preference key table: unknown notification type %q", rawType)
		}
		table[t] = strings.TrimSpace(key)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// Validate checks that the table is total over models.AllTypes and has no unknown entries.
func (kt KeyTable) Validate() error {
	var missing []string
	for _, t := range models.AllTypes {
		if _, ok := kt[t]; !ok {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("preference key table is missing types: %s", strings.Join(missing, ", "))
	}
	for t := range kt {
		if !t.Valid() {
			return fmt.Errorf("preference key table has unknown type %q", t)
		}
	}
	return nil
}

// Key returns the preference key for t. ok is false when t is always allowed.
func (kt KeyTable) Key(t models.Type) (key string, ok bool) {
	key = kt[t]
	return key, key != AlwaysAllowed
}
