package security

import (
	"regexp"
)

type secretPattern struct {
	name       string
	regex      *regexp.Regexp
	redactWith string
}

var secretPatterns = []secretPattern{
	{"Database URL", regexp.MustCompile(`(?i)(postgres(?:ql)?|mysql|redis)://[^\s'":]+:[^\s'"@]+@`), "$1://****:****@"},
	{"DSN password", regexp.MustCompile(`(?i)\bpassword=('[^']*'|[^\s]+)`), "password=****"},
	{"JWT Token", regexp.MustCompile(`eyJ[a-zA-Z0-9\-_]+\.eyJ[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`), "eyJ****"},
	{"Bearer", regexp.MustCompile(`(?i)\bbearer\s+[a-zA-Z0-9\-_.=]+`), "Bearer ****"},
}

// HasSecrets reports whether input contains a credential Redact would hide
func HasSecrets(input string) bool {
	for _, p := range secretPatterns {
		if p.regex.MatchString(input) {
			return true
		}
	}
	return false
}

// Redact masks connection-string passwords and tokens
func Redact(input string) string {
	result := input
	for _, p := range secretPatterns {
		result = p.regex.ReplaceAllString(result, p.redactWith)
	}
	return result
}
