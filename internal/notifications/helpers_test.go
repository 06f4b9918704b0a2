package notifications

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type stubHub struct {
	unregistered []*Client
}

func (h *stubHub) UnregisterClient(c *Client) { h.unregistered = append(h.unregistered, c) }
func (h *stubHub) Name() string               { return "test" }

func newTestClient(connID string, userID uint) *Client {
	c := NewClient(&stubHub{}, nil, connID, userID)
	c.MarkLoggedIn()
	return c
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// drain returns the event names queued on c without blocking.
func drain(c *Client) []string {
	var events []string
	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				return events
			}
			var env Envelope
			if err := json.Unmarshal(msg, &env); err == nil {
				events = append(events, env.Event)
			}
		default:
			return events
		}
	}
}

// nextEvent waits for one frame on c.
func nextEvent(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case msg := <-c.Send:
		var env Envelope
		require.NoError(t, json.Unmarshal(msg, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame for %s", c.ConnID)
		return Envelope{}
	}
}
