package broker

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Default AMQP ports appended when the configured URL has none.
const (
	defaultAMQPPort  = "5672"
	defaultAMQPSPort = "5671"
)

// NormalizeURL canonicalizes a broker URL. Deployment tooling hands out
// rabbit://, rabbitmq:// and rabbits:// URLs; these are rewritten to the
// amqp/amqps schemes the client library understands. Any other scheme is
// a configuration defect and is rejected. A missing port gets the default
// for the scheme.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("broker url is empty")
	}

	switch {
	case strings.HasPrefix(s, "rabbitmq://"):
		s = "amqp://" + strings.TrimPrefix(s, "rabbitmq://")
	case strings.HasPrefix(s, "rabbits://"):
		s = "amqps://" + strings.TrimPrefix(s, "rabbits://")
	case strings.HasPrefix(s, "rabbit://"):
		s = "amqp://" + strings.TrimPrefix(s, "rabbit://")
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid broker url: %w", err)
	}

	switch u.Scheme {
	case "amqp", "amqps":
	default:
		return "", fmt.Errorf("unsupported broker url scheme %q (want amqp or amqps)", u.Scheme)
	}

	if u.Port() == "" {
		port := defaultAMQPPort
		if u.Scheme == "amqps" {
			port = defaultAMQPSPort
		}
		u.Host = net.JoinHostPort(u.Hostname(), port)
	}

	return u.String(), nil
}

// SafeURL returns the URL with any password replaced, for logging.
func SafeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
