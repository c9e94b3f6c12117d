package dispatch

import (
	"fmt"
	"net/url"
	"strings"
)

// RouteResolver turns a named route and its parameters into a request URI.
type RouteResolver interface {
	Resolve(route string, params url.Values) (string, error)
}

// RouteFunc adapts a function to RouteResolver.
type RouteFunc func(route string, params url.Values) (string, error)

// Resolve calls f.
func (f RouteFunc) Resolve(route string, params url.Values) (string, error) {
	return f(route, params)
}

// ActionRoutes maps a bare action name to Prefix+name. Routes that already
// start with "/" or carry a scheme are used as given.
type ActionRoutes struct {
	Prefix string
}

// Resolve implements RouteResolver.
func (a ActionRoutes) Resolve(route string, params url.Values) (string, error) {
	route = strings.TrimSpace(route)
	if route == "" {
		return "", fmt.Errorf("dispatch: empty route")
	}

	var uri string
	switch {
	case strings.Contains(route, "://"), strings.HasPrefix(route, "/"):
		uri = route
	default:
		prefix := a.Prefix
		if prefix == "" {
			prefix = "/"
		}
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		uri = prefix + strings.TrimPrefix(route, "/")
	}
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(uri, "?") {
			sep = "&"
		}
		uri += sep + params.Encode()
	}
	return uri, nil
}

// RequestPath strips any scheme and host from uri so it can be placed on a
// raw request line.
func RequestPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("dispatch: parse uri %q: %w", uri, err)
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path, nil
}

// withTrigger appends the trigger parameters to a request path.
func withTrigger(path string, trigger url.Values) string {
	if len(trigger) == 0 {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + trigger.Encode()
}
