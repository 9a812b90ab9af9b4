package util

import (
	"net"
	"net/url"
	"regexp"
)

var urlRe = regexp.MustCompile(`https?://[A-Za-z0-9\-._~:/?#\[\]@!$&'()*+,;=%]+`)

// ExtractURL returns the first URL-shaped substring of text, or "".
func ExtractURL(text string) string {
	return urlRe.FindString(text)
}

// IsPublicURL reports whether rawURL points at a public address. URLs
// whose host resolves to a loopback, private, link-local or unspecified
// address are rejected, as are unparseable URLs and unresolvable hosts.
func IsPublicURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}

	ips, err := net.LookupIP(u.Hostname())
	if err != nil || len(ips) == 0 {
		return false
	}

	for _, ip := range ips {
		if ip.IsLoopback() ||
			ip.IsPrivate() ||
			ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() ||
			ip.IsUnspecified() {
			return false
		}
	}
	return true
}
