package urlutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestMatchGlob_FlowPatterns(t *testing.T) {
	t.Parallel()

	cases := []struct {
		glob string
		url  string
		want bool
	}{
		{"**/auth/signin**", "http://localhost:3000/auth/signin", true},
		{"**/auth/signin**", "http://localhost:3000/auth/signin?callbackUrl=%2Fdashboard", true},
		{"**/auth/signin**", "http://localhost:3000/dashboard", false},
		{"**/dashboard", "http://localhost:3000/dashboard", true},
		{"**/dashboard", "http://localhost:3000/dashboard?tab=1", false},
		{"**/dashboard", "http://localhost:3000/auth/signin?callbackUrl=/dashboard", true},
		{"**/dashboard**", "http://localhost:3000/dashboard/notes", true},
		{"http://*/dashboard", "http://localhost:3000/dashboard", true},
		{"http://*/dashboard", "http://localhost:3000/app/dashboard", false},
		{"**/{login,auth/signin}", "http://x.test/login", true},
		{"**/{login,auth/signin}", "http://x.test/auth/signin", true},
		{"**/{login,auth/signin}", "http://x.test/signup", false},
		{"**/a.b", "http://x.test/aXb", false},
		{`**/literal\*star`, "http://x.test/literal*star", true},
	}
	for _, tc := range cases {
		if got := MatchGlob(tc.glob, tc.url); got != tc.want {
			t.Fatalf("MatchGlob(%q, %q) = %v, want %v", tc.glob, tc.url, got, tc.want)
		}
	}
}

func TestMatchGlob_DoubleStarMatchesAnySuffix(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		host := rapid.StringMatching(`[a-z]{3,10}`).Draw(rt, "host")
		path := rapid.StringMatching(`(/[a-z0-9]{1,8}){0,4}`).Draw(rt, "path")
		query := rapid.StringMatching(`(\?[a-z]{1,5}=[a-z0-9%]{0,8})?`).Draw(rt, "query")
		u := fmt.Sprintf("https://%s.test%s%s", host, path, query)

		if !MatchGlob("**", u) {
			rt.Fatalf("** should match %s", u)
		}
		if !MatchGlob("https://"+host+".test**", u) {
			rt.Fatalf("prefix glob should match %s", u)
		}
	})
}

func TestMatchGlob_SingleStarStopsAtSlash(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		segs := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,6}`), 2, 5).Draw(rt, "segs")
		u := "http://x.test/" + strings.Join(segs, "/")
		if MatchGlob("http://x.test/*", u) {
			rt.Fatalf("single * crossed a slash for %s", u)
		}
		if !MatchGlob("http://x.test/**", u) {
			rt.Fatalf("** should cross slashes for %s", u)
		}
	})
}

func TestOriginFromRequest_UsesRequestOrigin(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		scheme := rapid.SampledFrom([]string{"http", "https"}).Draw(rt, "scheme")
		host := fmt.Sprintf(
			"%s.%s:%d",
			rapid.StringMatching(`[a-z]{3,12}`).Draw(rt, "host"),
			rapid.StringMatching(`[a-z]{2,8}`).Draw(rt, "tld"),
			rapid.IntRange(1024, 9999).Draw(rt, "port"),
		)
		req := httptest.NewRequest(http.MethodGet, scheme+"://"+host+"/dashboard", nil)
		req.Header.Set("X-Forwarded-Proto", scheme)

		got := OriginFromRequest(req, "http://localhost:3000")
		if got != fmt.Sprintf("%s://%s", scheme, host) {
			rt.Fatalf("unexpected origin: got=%s want=%s://%s", got, scheme, host)
		}
	})
}

func TestOriginFromRequest_UsesFallbackWhenHostMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://app.test/auth/signin", nil)
	req.Host = ""
	if got := OriginFromRequest(req, "http://localhost:3000/"); got != "http://localhost:3000" {
		t.Fatalf("expected fallback origin, got=%s", got)
	}
	if got := OriginFromRequest(nil, "http://localhost:3000"); got != "http://localhost:3000" {
		t.Fatalf("nil request should use fallback, got=%s", got)
	}
}

func TestBuildAbsolute_GeneratesExpectedURLs(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := fmt.Sprintf("http://localhost:%d", rapid.IntRange(1024, 65535).Draw(rt, "port"))
		if rapid.Bool().Draw(rt, "baseHasSlash") {
			base += "/"
		}
		trimmed := strings.TrimRight(base, "/")

		switch rapid.IntRange(0, 3).Draw(rt, "pathKind") {
		case 0:
			if got := BuildAbsolute(base, ""); got != trimmed {
				rt.Fatalf("empty path: got=%s want=%s", got, trimmed)
			}
		case 1:
			p := "/" + rapid.StringMatching(`[a-z]{1,12}`).Draw(rt, "path")
			if got := BuildAbsolute(base, p); got != trimmed+p {
				rt.Fatalf("rooted path: got=%s", got)
			}
		case 2:
			p := rapid.StringMatching(`[a-z]{1,12}`).Draw(rt, "path")
			if got := BuildAbsolute(base, p); got != trimmed+"/"+p {
				rt.Fatalf("relative path: got=%s", got)
			}
		case 3:
			p := "https://elsewhere.test/dashboard"
			if got := BuildAbsolute(base, p); got != p {
				rt.Fatalf("absolute path should pass through: got=%s", got)
			}
		}
	})
}
