package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_WritesEventsUntilFinal(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(8)

	w.Send(Event{Kind: KindReady, Ready: &ReadyPayload{RequestID: "req-1"}})
	w.Send(Event{Kind: KindToken, Token: &TokenPayload{Text: "hi"}})
	w.Send(Event{Kind: KindFinal, Final: nil})

	err := Run(context.Background(), rec, w)
	require.NoError(t, err)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "event: ready"))
	assert.True(t, strings.Contains(body, "event: token"))
	assert.True(t, strings.Contains(body, "event: final"))
}

func TestSend_DropsHeartbeatWhenFull(t *testing.T) {
	w := NewWriter(1)
	w.Send(Event{Kind: KindToken, Token: &TokenPayload{Text: "first"}})
	// Channel is full; a heartbeat should be dropped rather than block.
	done := make(chan struct{})
	go func() {
		w.Send(Event{Kind: KindHeartbeat, Heartbeat: &HeartbeatPayload{T: time.Now().Unix()}})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full channel for a heartbeat event")
	}
}
