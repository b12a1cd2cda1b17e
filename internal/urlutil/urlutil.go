package urlutil

import (
	"net/http"
	"regexp"
	"strings"
	"sync"
)

// OriginFromRequest returns the request origin (scheme + host) with the provided
// fallback when request host or scheme cannot be resolved.
func OriginFromRequest(r *http.Request, fallback string) string {
	base := normalizeBaseURL(fallback)
	if r == nil {
		return base
	}

	scheme := requestScheme(r)
	host := strings.TrimSpace(r.Host)
	if host == "" {
		return base
	}

	return normalizeBaseURL(scheme + "://" + host)
}

// BuildAbsolute builds an absolute URL from a base origin and a path.
func BuildAbsolute(base, path string) string {
	base = normalizeBaseURL(base)
	if path == "" {
		return base
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if strings.HasPrefix(path, "/") {
		return base + path
	}
	return base + "/" + path
}

var (
	globCacheMu sync.Mutex
	globCache   = map[string]*regexp.Regexp{}
)

// GlobToRegexp compiles a URL glob to an anchored regular expression using
// the browser-automation convention: "**" matches any run of characters,
// "*" matches any run except "/", "{a,b}" matches either alternative, and
// every other character is literal.
func GlobToRegexp(glob string) *regexp.Regexp {
	globCacheMu.Lock()
	defer globCacheMu.Unlock()
	if re, ok := globCache[glob]; ok {
		return re
	}

	var b strings.Builder
	b.WriteString("^")
	inGroup := false
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch {
		case c == '\\' && i+1 < len(glob):
			i++
			b.WriteString(regexp.QuoteMeta(string(glob[i])))
		case c == '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				b.WriteString(".*")
				for i+1 < len(glob) && glob[i+1] == '*' {
					i++
				}
			} else {
				b.WriteString("[^/]*")
			}
		case c == '{' && !inGroup:
			inGroup = true
			b.WriteString("(")
		case c == '}' && inGroup:
			inGroup = false
			b.WriteString(")")
		case c == ',' && inGroup:
			b.WriteString("|")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	if inGroup {
		b.WriteString(")")
	}
	b.WriteString("$")

	re := regexp.MustCompile(b.String())
	globCache[glob] = re
	return re
}

// MatchGlob reports whether rawURL matches the URL glob.
func MatchGlob(glob, rawURL string) bool {
	return GlobToRegexp(glob).MatchString(rawURL)
}

func requestScheme(r *http.Request) string {
	proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))
	if proto != "" {
		if comma := strings.Index(proto, ","); comma >= 0 {
			proto = strings.TrimSpace(proto[:comma])
		}
		if proto == "http" || proto == "https" {
			return proto
		}
	}

	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func normalizeBaseURL(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/")
}
