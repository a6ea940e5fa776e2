package dispatch

import "errors"

// Sentinel errors returned to callers via the response callback or from
// Send. All errors at module boundaries are wrapped with fmt.Errorf's %w
// verb so errors.Is continues to match these sentinels after wrapping.
var (
	// ErrInvalidArgument is returned when a required Request field is
	// missing or the route URI scheme is not "sip".
	ErrInvalidArgument = errors.New("dispatch: invalid argument")

	// ErrUnsupportedProtocol is returned when no supported transport/address
	// family combination can be found for a Request.
	ErrUnsupportedProtocol = errors.New("dispatch: unsupported protocol")

	// ErrNoDestination is returned when DNS resolution completed without
	// yielding any usable address.
	ErrNoDestination = errors.New("dispatch: no destination address")

	// ErrConnectionAborted is returned to all in-flight Requests when their
	// owning Stack is closed.
	ErrConnectionAborted = errors.New("dispatch: connection aborted")

	// ErrNetwork wraps an opaque transport or ctrans failure. Present on the
	// response callback when a send or transaction attempt fails and no
	// more candidates remain.
	ErrNetwork = errors.New("dispatch: network error")

	// ErrLoopDetected is advisory and is not returned by this package:
	// LoopDetect reports a suspected loop as a bool, and the caller's own
	// loop-prevention logic may use this sentinel.
	ErrLoopDetected = errors.New("dispatch: loop detected")
)
