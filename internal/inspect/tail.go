package inspect

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/roach88/puk/internal/ledger"
)

// Tail writes the run's events to w, one formatted line each. A positive n
// limits the initial output to the last n events. With follow set, Tail then
// polls for newly flushed events until the context is cancelled; cancellation
// is the normal way to stop and is not an error.
func Tail(ctx context.Context, dir string, n int, follow bool, interval time.Duration, w io.Writer) error {
	events, err := ledger.ReadEvents(dir)
	if err != nil {
		return err
	}
	shown := events
	if n > 0 && len(events) > n {
		shown = events[len(events)-n:]
	}
	for i := range shown {
		fmt.Fprintln(w, FormatEvent(&shown[i]))
	}
	if !follow {
		return nil
	}

	printed := len(events)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		events, err := ledger.ReadEvents(dir)
		if err != nil {
			return err
		}
		for i := printed; i < len(events); i++ {
			fmt.Fprintln(w, FormatEvent(&events[i]))
		}
		if len(events) > printed {
			printed = len(events)
		}
	}
}
