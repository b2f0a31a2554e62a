package testutil

import "errors"

// ErrConnectionReset stands in for a network failure returned by a client
// connection while it is being ticked.
var ErrConnectionReset = errors.New("connection reset by peer")
