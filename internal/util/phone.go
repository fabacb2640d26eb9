package util

// IsMSISDN reports whether s is a non-empty string of ASCII digits, the only
// form MVola accepts for debit and credit party values.
func IsMSISDN(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
