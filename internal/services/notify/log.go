package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// LogNotifier writes codes to w instead of sending mail. Development only.
type LogNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLogNotifier creates a notifier writing to w
func NewLogNotifier(w io.Writer) *LogNotifier {
	return &LogNotifier{w: w}
}

func (n *LogNotifier) SendCode(_ context.Context, identity, code string, ttl time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.w, "CODE GENERATED for %s: %s (expires in %d minutes)\n", identity, code, int(ttl/time.Minute))
	return err
}
