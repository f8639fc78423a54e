package stream

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/uamm-go/uamm/internal/logging"
)

// HeartbeatInterval is the spec's documented idle heartbeat cadence.
const HeartbeatInterval = 15 * time.Second

// Writer is a bounded-channel SSE sink for one request. Overflow drops
// heartbeat events first, per spec.md §9's stated overflow policy. The
// server-side framing (`data: ...\n\n`) mirrors the wire rules of the
// teacher's client-side SSE transport, written here for the opposite
// direction (writer, not reader).
type Writer struct {
	events chan Event
	done   chan struct{}
}

// NewWriter creates a Writer with the given channel capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{
		events: make(chan Event, capacity),
		done:   make(chan struct{}),
	}
}

// Send enqueues an event. When the channel is full, an incoming heartbeat is
// dropped; any other event blocks until there is room or the writer closes.
func (w *Writer) Send(e Event) {
	select {
	case w.events <- e:
		return
	default:
	}
	if e.Kind == KindHeartbeat {
		return // drop this heartbeat rather than block
	}
	select {
	case w.events <- e:
	case <-w.done:
	}
}

// Close signals no further events will arrive and unblocks any pending Run.
func (w *Writer) Close() {
	close(w.done)
}

// Run drains events to an http.ResponseWriter using SSE framing until the
// writer is closed or the request context is canceled, emitting periodic
// heartbeats when otherwise idle.
func Run(ctx context.Context, rw http.ResponseWriter, w *Writer) error {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing")
	}
	bw := bufio.NewWriter(rw)
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			// Drain remaining buffered events before returning.
			for {
				select {
				case e := <-w.events:
					if err := writeEvent(bw, e); err != nil {
						return err
					}
				default:
					bw.Flush()
					flusher.Flush()
					return nil
				}
			}
		case e := <-w.events:
			if err := writeEvent(bw, e); err != nil {
				return err
			}
			bw.Flush()
			flusher.Flush()
			if e.Kind == KindFinal || e.Kind == KindError {
				return nil
			}
		case <-ticker.C:
			hb := Event{Kind: KindHeartbeat, Heartbeat: &HeartbeatPayload{T: time.Now().Unix()}}
			if err := writeEvent(bw, hb); err != nil {
				return err
			}
			bw.Flush()
			flusher.Flush()
		}
	}
}

func writeEvent(bw *bufio.Writer, e Event) error {
	name, data, err := Encode(e)
	if err != nil {
		logging.Get(logging.CategoryStream).Error("encode event kind=%s: %v", e.Kind, err)
		return err
	}
	if _, err := fmt.Fprintf(bw, "event: %s\n", name); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
