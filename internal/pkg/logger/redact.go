package logger

import "strings"

// RedactEmail masks the local part of an email address, keeping the first
// character and the full domain: "jane.doe@acme.com" -> "j***@acme.com".
// Non-email strings are returned unchanged.
func RedactEmail(s string) string {
	at := strings.IndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return s
	}
	return s[:1] + "***" + s[at:]
}
