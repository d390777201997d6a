package ports

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Headers a browser may send on a cross-origin request to this api
var allowedRequestHeaders = []string{"Content-Type", "X-User-Id"}

const preflightMaxAge = 10 * time.Minute

type DomainSuffixes struct {
	suffixes       []string
	allowLocalhost bool
}

func NewDomainSuffixes(suffixes ...string) (*DomainSuffixes, error) {
	if len(suffixes) == 0 {
		return nil, fmt.Errorf("at least one domain suffix is required")
	}
	for _, suffix := range suffixes {
		if strings.HasPrefix(suffix, ".") {
			return nil, fmt.Errorf("domain suffix %s should not start with a dot", suffix)
		}
		if strings.Contains(suffix, "://") {
			return nil, fmt.Errorf("domain suffix %s should not contain a scheme", suffix)
		}
	}
	return &DomainSuffixes{
		suffixes: suffixes,
	}, nil
}

// WithLocalhost also accepts http(s)://localhost on any port, for a frontend
// running on a development machine
func (suffixes *DomainSuffixes) WithLocalhost() *DomainSuffixes {
	return &DomainSuffixes{
		suffixes:       suffixes.suffixes,
		allowLocalhost: true,
	}
}

func (suffixes *DomainSuffixes) AnyMatch(origin string) bool {
	if suffixes.allowLocalhost && isLocalhostOrigin(origin) {
		return true
	}
	for _, suffix := range suffixes.suffixes {
		if originMatchesSuffix(origin, suffix) {
			return true
		}
	}
	return false
}

func isLocalhostOrigin(origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Hostname() == "localhost" && parsed.Path == "" && parsed.User == nil
}

func originMatchesSuffix(origin string, suffix string) bool {
	// Literal match of the suffix (https://example.com)
	if origin == fmt.Sprintf("https://%s", suffix) {
		return true
	}

	// Only accept origins with https scheme
	if !strings.HasPrefix(origin, "https://") {
		return false
	}

	// Match any subdomain (https://*.example.com)
	if strings.HasSuffix(origin, fmt.Sprintf(".%s", suffix)) {
		return true
	}

	return false
}

// BuildCORSMiddleware lets allowed origins read the response
func BuildCORSMiddleware(allowedSuffixes *DomainSuffixes) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			if origin := r.Header.Get("Origin"); allowedSuffixes.AnyMatch(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}

			next(w, r)
		}
	}
}

// BuildCORSHandler answers preflight requests for a route served with the given methods
func BuildCORSHandler(allowedSuffixes *DomainSuffixes, methods ...string) http.HandlerFunc {
	allowMethods := strings.Join(methods, ",")
	allowHeaders := strings.Join(allowedRequestHeaders, ", ")
	maxAge := strconv.Itoa(int(preflightMaxAge.Seconds()))

	return BuildCORSMiddleware(allowedSuffixes)(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions && allowedSuffixes.AnyMatch(r.Header.Get("Origin")) {
			w.Header().Set("Access-Control-Allow-Methods", allowMethods)
			w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
			w.Header().Set("Access-Control-Max-Age", maxAge)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
