package relay

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is used when a destination URL carries no explicit port.
const DefaultPort = 6667

// Destination is a parsed channel URL: the session key for the
// multiplexer, and the (host, port, channel) triple the pump needs to
// reach it.
type Destination struct {
	URL     string // the original, unparsed channel URL
	Host    string
	Port    int
	Channel string // bare channel name, without the leading "#"
}

// ParseDestination parses a destination URL of the form
// <scheme>://<host>[:<port>]/<channel>. The scheme is not otherwise
// inspected; any of the usual irc/ircs/irc6 spellings are accepted.
func ParseDestination(raw string) (*Destination, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse channel url %q: %w", raw, err)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("channel url %q has no host", raw)
	}
	channel := strings.TrimPrefix(u.Path, "/")
	if channel == "" {
		return nil, fmt.Errorf("channel url %q has no channel path", raw)
	}

	port := DefaultPort
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("channel url %q has invalid port: %w", raw, err)
		}
		port = n
	}

	return &Destination{URL: raw, Host: host, Port: port, Channel: channel}, nil
}
