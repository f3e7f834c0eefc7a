package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	apperrors "github.com/go-i2p/asyncpool/lib/errors"

	"github.com/go-i2p/i2pkeys"
)

// minDestinationLength is the length of the shortest base64 I2P destination.
const minDestinationLength = 516

// Endpoint is the remote target every connection in a pool is made to.
// It is a value type; once built it is never mutated.
type Endpoint struct {
	Host string
	Port int
}

// NewEndpoint validates host and port and returns an Endpoint.
//
// Hosts ending in ".i2p" and full base64 I2P destinations are I2P endpoints
// and may use port 0. Every other host needs a port in 1..65535.
func NewEndpoint(host string, port int) (Endpoint, error) {
	ep := Endpoint{Host: strings.TrimSpace(host), Port: port}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

// ParseEndpoint parses "host:port". I2P hosts may omit the port.
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("%w: empty address", apperrors.ErrInvalidEndpoint)
	}

	if isI2PHost(s) {
		return NewEndpoint(s, 0)
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidEndpoint, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: port %q is not a number", apperrors.ErrInvalidEndpoint, portStr)
	}
	return NewEndpoint(host, port)
}

// Validate reports whether the endpoint is usable.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("%w: empty host", apperrors.ErrInvalidEndpoint)
	}
	if strings.ContainsAny(e.Host, " \t\r\n") {
		return fmt.Errorf("%w: host %q contains whitespace", apperrors.ErrInvalidEndpoint, e.Host)
	}
	if e.Port < 0 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", apperrors.ErrInvalidEndpoint, e.Port)
	}

	if e.IsI2P() {
		if isDestination(e.Host) {
			if _, err := i2pkeys.NewI2PAddrFromString(e.Host); err != nil {
				return fmt.Errorf("%w: bad I2P destination: %v", apperrors.ErrInvalidEndpoint, err)
			}
		}
		return nil
	}

	if e.Port == 0 {
		return fmt.Errorf("%w: port required for %q", apperrors.ErrInvalidEndpoint, e.Host)
	}
	if strings.Contains(e.Host, ":") && net.ParseIP(e.Host) == nil {
		return fmt.Errorf("%w: host %q is not a valid IPv6 literal", apperrors.ErrInvalidEndpoint, e.Host)
	}
	return nil
}

// IsZero reports whether e is the zero Endpoint.
func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

// IsI2P reports whether the endpoint names an I2P destination.
func (e Endpoint) IsI2P() bool {
	return isI2PHost(e.Host)
}

// Destination returns the I2P address of an I2P endpoint.
func (e Endpoint) Destination() (i2pkeys.I2PAddr, error) {
	if !e.IsI2P() {
		return "", fmt.Errorf("%w: %s is not an I2P endpoint", apperrors.ErrInvalidEndpoint, e)
	}
	if isDestination(e.Host) {
		return i2pkeys.NewI2PAddrFromString(e.Host)
	}
	return i2pkeys.I2PAddr(e.Host), nil
}

// Address returns the string handed to a dialer: "host:port", or the bare
// host for I2P endpoints without a port.
func (e Endpoint) Address() string {
	if e.IsI2P() && e.Port == 0 {
		return e.Host
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String renders the endpoint for logs. Full I2P destinations are shown in
// their base32 form.
func (e Endpoint) String() string {
	if isDestination(e.Host) {
		host := i2pkeys.I2PAddr(e.Host).Base32()
		if e.Port == 0 {
			return host
		}
		return net.JoinHostPort(host, strconv.Itoa(e.Port))
	}
	return e.Address()
}

func isI2PHost(host string) bool {
	return strings.HasSuffix(strings.ToLower(host), ".i2p") || isDestination(host)
}

func isDestination(host string) bool {
	return len(host) >= minDestinationLength && !strings.ContainsAny(host, ".:")
}
