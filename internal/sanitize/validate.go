package sanitize

import (
	"net/url"
	"strings"
)

// Characters that have no business in a shared file name.
const unsafeFileChars = `\/?%*:|"<>`

// IsValidFileName rejects names that are empty, contain path-unsafe
// characters, or try to walk directories.
func IsValidFileName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return !strings.ContainsAny(name, unsafeFileChars)
}

// IsValidHTTPURL accepts only well-formed absolute http(s) URLs.
func IsValidHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
