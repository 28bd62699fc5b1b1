package dom

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/net/html"
)

// ErrWaitTimeout is returned when no matching element appears in time.
var ErrWaitTimeout = errors.New("timed out waiting for element")

// WaitForElement resolves the first element matching selector, now or later.
// Absent an immediate match it subscribes to document-wide subtree mutations
// and re-queries on every batch. The subscription is released on every exit
// path. When the timeout and a late match race, the timeout wins, so the call
// is guaranteed to terminate.
func WaitForElement(ctx context.Context, doc *Document, selector string, timeout time.Duration) (*html.Node, error) {
	if n := doc.QuerySelector(selector); n != nil {
		return n, nil
	}

	found := make(chan *html.Node, 1)
	obs := doc.Observe(doc.Root(), ObserveOptions{ChildList: true, Subtree: true}, func(Batch) {
		if n := doc.QuerySelector(selector); n != nil {
			select {
			case found <- n:
			default:
			}
		}
	})
	defer obs.Disconnect()

	// Mutations between the first query and Observe would otherwise be lost.
	if n := doc.QuerySelector(selector); n != nil {
		return n, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Timeout wins ties.
	select {
	case <-timer.C:
		return nil, fmt.Errorf("%w: %q after %s", ErrWaitTimeout, selector, timeout)
	default:
	}

	select {
	case n := <-found:
		return n, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %q after %s", ErrWaitTimeout, selector, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
