// internal/requestinfo/requestinfo.go
//
// Per-request metadata: resolved client IP plus a parsed user-agent
// fingerprint.  The resolved IP feeds the ingest allowlist check and
// request logging; the UA summary feeds logging and notification
// embeds.  These structs are inert and safe to log or JSON-encode.
package requestinfo

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avct/uasurfer"
)

// UA holds the parsed user-agent properties.
type UA struct {
	Raw     string // Entire User-Agent header
	Browser string // "Chrome", "Firefox", "Safari", etc.
	Version string // "124.0.6367"
	OS      string // "macOS", "Windows", "Android", "iOS", etc.
	Device  string // "Desktop", "Phone", "Tablet", "TV", ...
	IsBot   bool
}

// RequestInfo is attached to the request context by Enrich.
type RequestInfo struct {
	IP        net.IP
	UA        UA
	URL       *url.URL // Pointer copy, safe to dereference read-only
	Timestamp time.Time
}

type ctxKey struct{} // unexported, collision-proof

// FromContext returns the pointer previously stored by Enrich.
// It returns nil if the middleware has not run.
func FromContext(ctx context.Context) *RequestInfo {
	v, _ := ctx.Value(ctxKey{}).(*RequestInfo)
	return v
}

// Resolver decides which client address a request really came from.
// Forwarding headers are only honored when the direct peer is inside
// one of the trusted proxy ranges; otherwise a spoofed header could
// defeat the ingest IP allowlist.
type Resolver struct {
	trusted []*net.IPNet
}

// NewResolver parses the trusted proxy CIDR list.  Invalid entries are
// skipped.
func NewResolver(cidrs []string) *Resolver {
	r := &Resolver{}
	for _, c := range cidrs {
		if _, ipnet, err := net.ParseCIDR(strings.TrimSpace(c)); err == nil {
			r.trusted = append(r.trusted, ipnet)
		}
	}
	return r
}

// ClientIP resolves the request's true client address.  Behind a
// trusted proxy, CF-Connecting-IP wins, then the left-most entry of
// X-Forwarded-For, then X-Real-Ip.  Otherwise it is the socket peer.
func (rv *Resolver) ClientIP(r *http.Request) net.IP {
	peer := remoteIP(r)
	if peer == nil || !rv.isTrusted(peer) {
		return peer
	}

	if cf := r.Header.Get("CF-Connecting-IP"); cf != "" {
		if ip := net.ParseIP(strings.TrimSpace(cf)); ip != nil {
			return ip
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
				return ip
			}
		}
	}
	if xrip := r.Header.Get("X-Real-Ip"); xrip != "" {
		if ip := net.ParseIP(strings.TrimSpace(xrip)); ip != nil {
			return ip
		}
	}
	return peer
}

func (rv *Resolver) isTrusted(ip net.IP) bool {
	for _, n := range rv.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func remoteIP(r *http.Request) net.IP {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(r.RemoteAddr)
}

// parseUA converts a raw header into our UA struct using uasurfer.
func parseUA(uaHeader string) UA {
	u := uasurfer.Parse(uaHeader)

	osName := strings.TrimPrefix(u.OS.Name.String(), "OS")
	if osName == "MacOSX" {
		osName = "macOS"
	}

	return UA{
		Raw:     uaHeader,
		Browser: strings.TrimPrefix(u.Browser.Name.String(), "Browser"),
		Version: trimVersion(u.Browser.Version),
		OS:      osName,
		Device:  deviceTypeToString(u.DeviceType),
		IsBot:   u.IsBot(),
	}
}

// trimVersion renders "major.minor.patch", dropping trailing zeros.
func trimVersion(v uasurfer.Version) string {
	if v.Major == 0 && v.Minor == 0 && v.Patch == 0 {
		return ""
	}
	if v.Patch != 0 {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	if v.Minor != 0 {
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	}
	return strconv.Itoa(v.Major)
}

// deviceTypeToString maps uasurfer.DeviceType to a user-friendly string.
func deviceTypeToString(dt uasurfer.DeviceType) string {
	switch dt {
	case uasurfer.DeviceComputer:
		return "Desktop"
	case uasurfer.DevicePhone:
		return "Phone"
	case uasurfer.DeviceTablet:
		return "Tablet"
	case uasurfer.DeviceConsole:
		return "Console"
	case uasurfer.DeviceWearable:
		return "Wearable"
	case uasurfer.DeviceTV:
		return "TV"
	default:
		return "Unknown"
	}
}
