package client

import (
	"fmt"
	"net/url"
	"time"

	"github.com/Sternrassler/school-portal-client/pkg/selector"
)

// CachePolicy controls read/write-through caching of a request.
type CachePolicy struct {
	// Enabled reads from and writes to the store.
	Enabled bool

	// Period is the time-to-live of a cached response. Zero never goes stale.
	Period time.Duration
}

// CacheFor returns an enabled policy with a period given in seconds,
// the unit the portal views configure periods in.
func CacheFor(seconds int) CachePolicy {
	return CachePolicy{Enabled: true, Period: time.Duration(seconds) * time.Second}
}

// Options configures a single Get.
type Options struct {
	// Cache policy (disabled by default)
	Cache CachePolicy

	// Selectors restrict a collection to these ids and are appended to the path
	Selectors []string

	// Query parameters appended to the request URL
	Query url.Values

	// CustomFormat skips unwrapping of the single top-level response property
	CustomFormat bool

	// Decoder overrides the body decoder. Takes precedence over CustomFormat.
	// Requests with a custom decoder are never coalesced.
	Decoder Decoder
}

// request is a fully resolved Get.
type request struct {
	// baseURL is the un-augmented URL used as cache key
	baseURL string

	// requestURL carries query parameters and the selector segment
	requestURL string

	// endpoint is the base path, used as metrics label
	endpoint string

	selectors selector.Set
}

// resolveRequest builds the final request URL from rawURL and opts.
// Relative URLs are resolved against base when base is set.
func resolveRequest(base *url.URL, rawURL string, opts Options) (*request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if base != nil && !u.IsAbs() {
		u = base.ResolveReference(u)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, rawURL)
	}

	sel := selector.Resolve(opts.Selectors)

	final := *u
	if len(opts.Query) > 0 {
		q := final.Query()
		for key, values := range opts.Query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		final.RawQuery = q.Encode()
	}
	if !sel.Empty() {
		final.Path = sel.Apply(final.Path)
		final.RawPath = ""
	}

	return &request{
		baseURL:    u.String(),
		requestURL: final.String(),
		endpoint:   u.Path,
		selectors:  sel,
	}, nil
}
