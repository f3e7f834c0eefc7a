package resilience

import apperrors "github.com/go-i2p/asyncpool/lib/errors"

// ErrCircuitOpen is returned when an attempt is rejected because the circuit is open.
var ErrCircuitOpen = apperrors.ErrCircuitOpen
