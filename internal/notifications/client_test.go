package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClient_TrySend(t *testing.T) {
	t.Run("Queued", func(t *testing.T) {
		c := newTestClient("c1", 1)
		assert.True(t, c.TrySend([]byte(`{"event":"typing"}`)))
		assert.Len(t, c.Send, 1)
	})

	t.Run("OverflowQueuesOneDropNotice", func(t *testing.T) {
		c := newTestClient("c1", 1)
		for i := 0; i < sendBufferSize-1; i++ {
			assert.True(t, c.TrySend([]byte("x")))
		}
		assert.False(t, c.TrySend([]byte("y")))
		assert.False(t, c.TrySend([]byte("z")))
		assert.Len(t, c.Send, sendBufferSize)

		var last []byte
		for len(c.Send) > 0 {
			last = <-c.Send
		}
		assert.Equal(t, dropNotice, last)
	})

	t.Run("ClosedSessionDropsSilently", func(t *testing.T) {
		c := newTestClient("c1", 1)
		c.Close()
		c.Close()
		assert.False(t, c.TrySend([]byte("x")))
	})
}

func TestClient_LoggedIn(t *testing.T) {
	c := NewClient(&stubHub{}, nil, "c1", 7)
	assert.False(t, c.LoggedIn())
	c.MarkLoggedIn()
	assert.True(t, c.LoggedIn())
	assert.Equal(t, "test", c.hubName())
	assert.Equal(t, "unknown", (&Client{}).hubName())
}

func TestEncode(t *testing.T) {
	msg, err := Encode(EventTyping, map[string]uint{"conversationId": 3})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"event":"typing","data":{"conversationId":3}}`, string(msg))

	_, err = Encode(EventTyping, make(chan int))
	assert.Error(t, err)
}
