package ctrans

import (
	"time"

	"github.com/jroosing/sipdispatch/internal/config"
)

// Timers holds the parsed RFC 3261 §17.1.1.2/§17.1.2.2 retransmission
// durations: T1 is the base retransmission interval, B bounds an INVITE
// transaction's lifetime, F bounds a non-INVITE transaction's lifetime.
type Timers struct {
	T1 time.Duration
	B  time.Duration
	F  time.Duration
}

// t2 is the retransmission interval cap for non-INVITE requests and for an
// INVITE that never leaves the Calling state (RFC 3261 §17.1.1.2, §17.1.2.2).
const t2 = 4 * time.Second

// FromConfig parses config.TimerConfig's string durations, applying the
// RFC 3261 defaults (T1=500ms, B=F=64*T1) when a field is blank or
// unparseable.
func FromConfig(tc config.TimerConfig) Timers {
	t1 := parseDurationOr(tc.T1, 500*time.Millisecond)
	return Timers{
		T1: t1,
		B:  parseDurationOr(tc.B, 64*t1),
		F:  parseDurationOr(tc.F, 64*t1),
	}
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
