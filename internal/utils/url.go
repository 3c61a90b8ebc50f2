package utils

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

func ExtractURLs(content string) []string {
	return urlRegex.FindAllString(content, -1)
}

// HostOf returns the lowercase, punycode-normalized hostname of a URL so
// that unicode lookalike domains compare equal to their ASCII form.
func HostOf(raw string) (string, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	host := strings.ToLower(parsed.Hostname())
	if asciiHost, err := idna.ToASCII(host); err == nil {
		host = asciiHost
	}
	return host, nil
}

// DomainBlocked reports whether domain, or any parent domain of it, is in
// the blocked set.
func DomainBlocked(domain string, blocked map[string]struct{}) bool {
	domain = strings.ToLower(domain)
	for domain != "" {
		if _, ok := blocked[domain]; ok {
			return true
		}
		idx := strings.IndexByte(domain, '.')
		if idx < 0 {
			return false
		}
		domain = domain[idx+1:]
	}
	return false
}
