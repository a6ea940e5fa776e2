package dispatch

// LoopState is the failure-counter state machine described in §8 of the
// resolution design: it does not gate attempts itself, it advises the
// caller's own loop-prevention logic whether a given response status code
// looks like a retry loop.
type LoopState struct {
	failc     int
	lastSCode int
}

// Reset returns state to failc=0, last_scode=0.
func (s *LoopState) Reset() {
	s.failc = 0
	s.lastSCode = 0
}

// LoopDetect folds one response status code into the state machine and
// reports whether a loop is suspected.
//
// Transition rules:
//   - 2xx: failc resets to 0; never a loop.
//   - 3xx: failc increments; loop reported once failc >= 16.
//   - 401, 407, 491: failc increments; loop reported once failc >= 16,
//     without the repeat-code condition below.
//   - any other 4xx/5xx/6xx: loop reported if scode repeats the previous
//     scode, OR failc >= 16; failc increments either way.
func (s *LoopState) LoopDetect(scode int) bool {
	switch {
	case scode >= 200 && scode < 300:
		s.failc = 0
		s.lastSCode = scode
		return false

	case scode >= 300 && scode < 400:
		s.failc++
		s.lastSCode = scode
		return s.failc >= 16

	case scode == 401 || scode == 407 || scode == 491:
		s.failc++
		s.lastSCode = scode
		return s.failc >= 16

	default:
		repeat := scode == s.lastSCode
		s.failc++
		s.lastSCode = scode
		return repeat || s.failc >= 16
	}
}
