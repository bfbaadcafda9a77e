package models

// Preferences maps a preference key to its enabled flag. A missing key means enabled.
type Preferences map[string]bool

// Enabled reports whether key is enabled under the fail-open rule.
func (p Preferences) Enabled(key string) bool {
	enabled, ok := p[key]
	return !ok || enabled
}

// Merge returns a copy of p with every key of update applied on top.
func (p Preferences) Merge(update Preferences) Preferences {
	out := make(Preferences, len(p)+len(update))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}
