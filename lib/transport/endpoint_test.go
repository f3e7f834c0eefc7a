package transport

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/go-i2p/asyncpool/lib/errors"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"host and port", "db.internal:5432", "db.internal", 5432, false},
		{"ipv4", "127.0.0.1:8080", "127.0.0.1", 8080, false},
		{"ipv6", "[::1]:6379", "::1", 6379, false},
		{"surrounding space", "  cache:11211 ", "cache", 11211, false},
		{"i2p without port", "service.i2p", "service.i2p", 0, false},
		{"b32 address", "abcdefghijklmnopqrstuvwxyz234567abcdefghijklmnopqrst.b32.i2p", "abcdefghijklmnopqrstuvwxyz234567abcdefghijklmnopqrst.b32.i2p", 0, false},
		{"empty", "", "", 0, true},
		{"missing port", "db.internal", "", 0, true},
		{"zero port", "db.internal:0", "", 0, true},
		{"port too large", "db.internal:70000", "", 0, true},
		{"port not a number", "db.internal:http", "", 0, true},
		{"empty host", ":5432", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := ParseEndpoint(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEndpoint(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, apperrors.ErrInvalidEndpoint) {
					t.Errorf("error = %v, want ErrInvalidEndpoint", err)
				}
				return
			}
			if ep.Host != tt.wantHost || ep.Port != tt.wantPort {
				t.Errorf("ParseEndpoint(%q) = %+v, want %s:%d", tt.input, ep, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestEndpoint_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ep      Endpoint
		wantErr bool
	}{
		{"valid", Endpoint{Host: "db.internal", Port: 5432}, false},
		{"zero", Endpoint{}, true},
		{"whitespace in host", Endpoint{Host: "db internal", Port: 1}, true},
		{"negative port", Endpoint{Host: "db.internal", Port: -1}, true},
		{"bad ipv6", Endpoint{Host: "::zz", Port: 80}, true},
		{"i2p with port", Endpoint{Host: "service.i2p", Port: 80}, false},
		{"bad destination", Endpoint{Host: strings.Repeat("!", minDestinationLength), Port: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ep.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !apperrors.IsInvalidInput(err) {
				t.Errorf("Validate() error = %v, want invalid input", err)
			}
		})
	}
}

func TestNewEndpoint(t *testing.T) {
	ep, err := NewEndpoint(" db.internal ", 5432)
	if err != nil {
		t.Fatalf("NewEndpoint() error = %v", err)
	}
	if ep.Host != "db.internal" {
		t.Errorf("Host = %q, want trimmed host", ep.Host)
	}

	if _, err := NewEndpoint("db.internal", 0); err == nil {
		t.Error("NewEndpoint should reject a missing port")
	}
}

func TestEndpoint_Rendering(t *testing.T) {
	tests := []struct {
		ep      Endpoint
		address string
		isI2P   bool
	}{
		{Endpoint{Host: "db.internal", Port: 5432}, "db.internal:5432", false},
		{Endpoint{Host: "::1", Port: 6379}, "[::1]:6379", false},
		{Endpoint{Host: "service.i2p"}, "service.i2p", true},
		{Endpoint{Host: "Service.I2P", Port: 80}, "Service.I2P:80", true},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			if got := tt.ep.Address(); got != tt.address {
				t.Errorf("Address() = %q, want %q", got, tt.address)
			}
			if got := tt.ep.String(); got != tt.address {
				t.Errorf("String() = %q, want %q", got, tt.address)
			}
			if got := tt.ep.IsI2P(); got != tt.isI2P {
				t.Errorf("IsI2P() = %v, want %v", got, tt.isI2P)
			}
		})
	}
}

func TestEndpoint_IsZero(t *testing.T) {
	if !(Endpoint{}).IsZero() {
		t.Error("zero Endpoint should report IsZero")
	}
	if (Endpoint{Host: "x", Port: 1}).IsZero() {
		t.Error("non-zero Endpoint reported IsZero")
	}
}

func TestEndpoint_Destination(t *testing.T) {
	ep := Endpoint{Host: "service.i2p"}
	dest, err := ep.Destination()
	if err != nil {
		t.Fatalf("Destination() error = %v", err)
	}
	if string(dest) != "service.i2p" {
		t.Errorf("Destination() = %q, want service.i2p", dest)
	}

	if _, err := (Endpoint{Host: "db.internal", Port: 1}).Destination(); !errors.Is(err, apperrors.ErrInvalidEndpoint) {
		t.Errorf("Destination() on TCP endpoint error = %v, want ErrInvalidEndpoint", err)
	}
}

func TestConnectError(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&ConnectError{Endpoint: Endpoint{Host: "db.internal", Port: 5432}, Err: cause})

	if !errors.Is(err, cause) {
		t.Error("ConnectError should unwrap to its cause")
	}
	if !errors.Is(err, apperrors.ErrConnection) {
		t.Error("ConnectError should match ErrConnection")
	}
	if apperrors.CodeOf(err) != apperrors.CodeConnection {
		t.Errorf("CodeOf() = %d, want %d", apperrors.CodeOf(err), apperrors.CodeConnection)
	}
	if !strings.Contains(err.Error(), "db.internal:5432") {
		t.Errorf("Error() = %q, want endpoint in message", err.Error())
	}

	var ce *ConnectError
	if !errors.As(err, &ce) || ce.Endpoint.Port != 5432 {
		t.Error("errors.As should find the ConnectError")
	}
}

func TestConnectorFunc(t *testing.T) {
	called := false
	var c Connector = ConnectorFunc(func(ep Endpoint, onComplete func(Result)) CancelFunc {
		called = true
		onComplete(Result{Err: errors.New("no")})
		return func() {}
	})

	var got Result
	c.ConnectAsync(Endpoint{Host: "x", Port: 1}, func(r Result) { got = r })
	if !called || got.Err == nil {
		t.Errorf("ConnectorFunc not invoked as expected: called=%v result=%+v", called, got)
	}
}
