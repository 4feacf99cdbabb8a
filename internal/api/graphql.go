package api

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// NewGraphQLProxy forwards shop GraphQL requests to the platform's GraphQL
// endpoint at target. The request path is replaced by the target's path.
func NewGraphQLProxy(target string) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse graphql upstream: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("graphql upstream must be an absolute http(s) url: %q", target)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			pr.Out.URL.Path = u.Path
			pr.Out.URL.RawPath = u.RawPath
			pr.SetXForwarded()
		},
	}, nil
}
