package service

import "time"

const DefaultThrottleWindow = 300 * time.Millisecond

// CommandThrottle coalesces a repeated control command from one session into
// a single callback when the repeats land inside the window.
type CommandThrottle struct {
	window time.Duration
	now    func() time.Time
	last   map[string]lastCommand
}

type lastCommand struct {
	action string
	at     time.Time
}

func NewCommandThrottle(window time.Duration, now func() time.Time) *CommandThrottle {
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	if now == nil {
		now = time.Now
	}
	return &CommandThrottle{
		window: window,
		now:    now,
		last:   make(map[string]lastCommand),
	}
}

// Allow reports whether action from sessionID should reach the host. A
// dropped repeat does not extend the window.
func (t *CommandThrottle) Allow(sessionID, action string) bool {
	now := t.now()
	if prev, ok := t.last[sessionID]; ok && prev.action == action && now.Sub(prev.at) < t.window {
		return false
	}
	t.last[sessionID] = lastCommand{action: action, at: now}
	return true
}

func (t *CommandThrottle) Forget(sessionID string) {
	delete(t.last, sessionID)
}
