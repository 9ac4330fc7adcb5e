package config

import (
	"fmt"
	"net"
	"net/url"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// Warnings returns configuration choices that work but are probably mistakes.
// Call Validate first; unparsable URLs are skipped here.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	base, baseErr := url.Parse(c.Server.BaseURL)
	sock, sockErr := url.Parse(c.Server.SocketURL)

	if baseErr == nil && base.Scheme == "http" && !loopback(base.Hostname()) {
		warnings = append(warnings, ValidationWarning{
			Category: "Server",
			Item:     "base_url",
			Message:  "credentials are sent over plain http to a remote host",
		})
	}
	if sockErr == nil && sock.Scheme == "ws" && !loopback(sock.Hostname()) {
		warnings = append(warnings, ValidationWarning{
			Category: "Server",
			Item:     "socket_url",
			Message:  "access tokens are sent over an unencrypted websocket to a remote host",
		})
	}
	if baseErr == nil && sockErr == nil && base.Hostname() != sock.Hostname() {
		warnings = append(warnings, ValidationWarning{
			Category: "Server",
			Item:     "socket_url",
			Message:  fmt.Sprintf("push host %q differs from api host %q", sock.Hostname(), base.Hostname()),
		})
	}

	if c.Typing.EmitInterval >= c.Typing.Timeout {
		warnings = append(warnings, ValidationWarning{
			Category: "Typing",
			Item:     "emit_interval",
			Message:  fmt.Sprintf("emit interval %s is not shorter than timeout %s; peers will see the indicator flicker", c.Typing.EmitInterval, c.Typing.Timeout),
		})
	}

	if c.Session.ExpirySkew >= c.Session.RefreshTimeout*6 {
		warnings = append(warnings, ValidationWarning{
			Category: "Session",
			Item:     "expiry_skew",
			Message:  fmt.Sprintf("expiry skew %s is large; short-lived tokens will be refreshed on every request", c.Session.ExpirySkew),
		})
	}

	return warnings
}

func loopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
