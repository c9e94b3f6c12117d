package dispatch

import (
	"net"
	"net/http"
	"strconv"
	"strings"
)

// Origin is where and as whom a self-call is made, derived from the request
// that triggers it.
type Origin struct {
	Host   string
	Port   int
	Secure bool

	// Cookies and Authorization are forwarded only for calls that run as the
	// current user.
	Cookies       []*http.Cookie
	Authorization string
}

// OriginFromRequest reads the host, port, scheme and credentials of r.
// With trustProxy, X-Forwarded-Proto and X-Forwarded-Host take precedence.
func OriginFromRequest(r *http.Request, trustProxy bool) Origin {
	o := Origin{
		Secure:        r.TLS != nil,
		Cookies:       r.Cookies(),
		Authorization: r.Header.Get("Authorization"),
	}

	hostport := r.Host
	if trustProxy {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			o.Secure = strings.EqualFold(strings.TrimSpace(strings.Split(proto, ",")[0]), "https")
		}
		if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
			hostport = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
		portStr = ""
	}
	o.Host = host
	if p, err := strconv.Atoi(portStr); err == nil {
		o.Port = p
	}
	if o.Port == 0 {
		o.Port = 80
		if o.Secure {
			o.Port = 443
		}
	}
	return o.normalized()
}

// normalized promotes a secure origin reporting port 80 to 443.
func (o Origin) normalized() Origin {
	if o.Secure && o.Port == 80 {
		o.Port = 443
	}
	return o
}

// UseTLS reports whether the connection must be wrapped in TLS.
func (o Origin) UseTLS() bool {
	return o.normalized().Port == 443
}

// Address returns host:port for dialing.
func (o Origin) Address() string {
	o = o.normalized()
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// HostHeader returns the Host header value, omitting default ports.
func (o Origin) HostHeader() string {
	o = o.normalized()
	if o.Port == 80 || o.Port == 443 || o.Port == 0 {
		return o.Host
	}
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Anonymous returns o without forwarded credentials.
func (o Origin) Anonymous() Origin {
	o.Cookies = nil
	o.Authorization = ""
	return o
}
