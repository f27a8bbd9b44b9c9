package gmail

import (
	"regexp"
	"strings"

	"github.com/mailsweep/mailsweep/pkg/model"
)

var (
	httpLinkRegex   = regexp.MustCompile(`<(https?://[^>]+)>`)
	mailtoLinkRegex = regexp.MustCompile(`<(mailto:[^>]+)>`)
	namedFromRegex  = regexp.MustCompile(`([^<]*)<([^>]+)>`)
	bareEmailRegex  = regexp.MustCompile(`[\w.\-+]+@[\w.\-]+`)
)

func headerValue(headers []Header, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// ExtractUnsubscribe pulls the unsubscribe target out of the List-Unsubscribe
// header. HTTP links are preferred; a List-Unsubscribe-Post header marks
// one-click (RFC 8058) support. mailto links are surfaced but never fetched.
func ExtractUnsubscribe(headers []Header) (link, mode string) {
	value, ok := headerValue(headers, "List-Unsubscribe")
	if !ok {
		return "", ""
	}

	if m := httpLinkRegex.FindStringSubmatch(value); m != nil {
		if _, oneClick := headerValue(headers, "List-Unsubscribe-Post"); oneClick {
			return m[1], model.ModeOneClick
		}
		return m[1], model.ModeManual
	}

	if m := mailtoLinkRegex.FindStringSubmatch(value); m != nil {
		return m[1], model.ModeMailto
	}

	return "", ""
}

// SenderInfo extracts the display value, email address, and domain from the
// From header.
func SenderInfo(headers []Header) (from, email, domain string) {
	value, ok := headerValue(headers, "From")
	if !ok {
		return "Unknown", "", "unknown"
	}

	if m := namedFromRegex.FindStringSubmatch(value); m != nil {
		name := strings.Trim(strings.TrimSpace(m[1]), `"`)
		email = strings.TrimSpace(m[2])
		if name == "" {
			name = email
		}
		return name, email, emailDomain(email)
	}

	if m := bareEmailRegex.FindString(value); m != "" {
		return value, m, emailDomain(m)
	}

	return value, "", "unknown"
}

// Subject extracts the Subject header.
func Subject(headers []Header) string {
	if value, ok := headerValue(headers, "Subject"); ok {
		return value
	}
	return "(No Subject)"
}

func emailDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 && i < len(email)-1 {
		return strings.ToLower(email[i+1:])
	}
	return "unknown"
}
