package logger

import "testing"

func TestRedactEmail(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"a@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
		{"two@at@signs", "***@***"},
	}
	for _, c := range cases {
		if got := RedactEmail(c.in); got != c.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRedactPIIValue(t *testing.T) {
	if got := redactPIIValue("email", "carol@example.org"); got != "ca***@example.org" {
		t.Errorf("email field not redacted: %q", got)
	}
	// Emails embedded in generic fields are masked too
	if got := redactPIIValue("error", "delivery to carol@example.org refused"); got != "delivery to ca***@example.org refused" {
		t.Errorf("embedded email not redacted: %q", got)
	}
	if got := redactPIIValue("count", "42"); got != "42" {
		t.Errorf("non-PII value changed: %q", got)
	}
}
