package strx

// Coalesce returns the first non-empty string, or "" when all are empty.
// Used for flag-over-config precedence chains.
func Coalesce(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
