package producttable

import "time"

// Level is the severity of a toast.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Toast is a transient notification shown once on the next render.
type Toast struct {
	Level   Level
	Message string
	At      time.Time
}

// maxToasts caps the pending queue; the oldest toasts are dropped first.
const maxToasts = 5

// Notification messages.
const (
	msgDeleteOK   = "Delete product successfully"
	msgDeleteFail = "Delete product failed"
	msgUpdateOK   = "Update product successfully"
	msgUpdateFail = "Update product failed"
	msgCreateOK   = "Create product successfully"
	msgCreateFail = "Create product failed"
)

type toasts struct {
	ttl   time.Duration
	items []Toast
}

func (t *toasts) push(level Level, msg string, now time.Time) {
	t.items = append(t.items, Toast{Level: level, Message: msg, At: now})
	if n := len(t.items) - maxToasts; n > 0 {
		t.items = append(t.items[:0:0], t.items[n:]...)
	}
}

// drain returns the unexpired toasts and clears the queue.
func (t *toasts) drain(now time.Time) []Toast {
	var out []Toast
	for _, it := range t.items {
		if t.ttl > 0 && now.Sub(it.At) > t.ttl {
			continue
		}
		out = append(out, it)
	}
	t.items = nil
	return out
}
