package util

import (
	"net/http"
	"net/url"
	"strings"
)

// NewProxyFunc creates a proxy function based on configuration. Explicit
// settings win over environment variables; hosts listed in noProxy connect
// directly.
func NewProxyFunc(httpProxy, httpsProxy, noProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}

	skip := splitHostList(noProxy)

	return func(req *http.Request) (*url.URL, error) {
		if hostExempt(req.URL.Hostname(), skip) {
			return nil, nil
		}
		if req.URL.Scheme == "https" && httpsProxy != "" {
			return url.Parse(httpsProxy)
		}
		if httpProxy != "" {
			return url.Parse(httpProxy)
		}
		return http.ProxyFromEnvironment(req)
	}
}

func splitHostList(s string) []string {
	var hosts []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			hosts = append(hosts, strings.ToLower(part))
		}
	}
	return hosts
}

// hostExempt matches a hostname against a no-proxy list: exact entries or
// domain suffixes, with "*" exempting everything.
func hostExempt(host string, skip []string) bool {
	host = strings.ToLower(host)
	for _, entry := range skip {
		if entry == "*" || entry == host {
			return true
		}
		suffix := strings.TrimPrefix(entry, ".")
		if strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
