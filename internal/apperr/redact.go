package apperr

import "regexp"

// Patterns that could leak deployment details through error messages or
// logs: filesystem paths, URLs, env assignments, long hex blobs, JWTs.
var (
	unixPathPattern = regexp.MustCompile(`/[a-zA-Z0-9_\-./]+`)
	winPathPattern  = regexp.MustCompile(`[A-Z]:\\[a-zA-Z0-9_\-.\\]+`)
	urlPattern      = regexp.MustCompile(`https?://[^\s]+`)
	envPattern      = regexp.MustCompile(`[A-Z_]{2,}=[^\s]+`)
	hexPattern      = regexp.MustCompile(`0x[a-fA-F0-9]{40,}`)
	jwtPattern      = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`)
	bearerPattern   = regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._\-]+`)
)

// Redact strips sensitive material from a message before it leaves the
// engine. URLs are stripped before paths so a URL's path segment does not
// survive as a bare [PATH].
func Redact(msg string) string {
	out := urlPattern.ReplaceAllString(msg, "[URL]")
	out = unixPathPattern.ReplaceAllString(out, "[PATH]")
	out = winPathPattern.ReplaceAllString(out, "[PATH]")
	out = envPattern.ReplaceAllString(out, "[ENV]")
	out = jwtPattern.ReplaceAllString(out, "[TOKEN]")
	out = bearerPattern.ReplaceAllString(out, "[TOKEN]")
	out = hexPattern.ReplaceAllString(out, "[ADDRESS]")
	return out
}
