package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patch-fleet/pkg/fleet"
	"patch-fleet/pkg/model"
)

func dialHub(t *testing.T, hub *WSHub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 },
		2*time.Second, 10*time.Millisecond)
	return conn
}

func TestBroadcastDeliversToSubscriber(t *testing.T) {
	hub := NewWSHub()
	conn := dialHub(t, hub)

	hub.Broadcast(WSMessage{
		Type:  "host_progress",
		Event: &fleet.Event{Host: "web1", Status: model.StatusPatching},
	})

	var msg WSMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "host_progress", msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, "web1", msg.Event.Host)
}

func TestConcurrentBroadcastsAreSerializedPerConnection(t *testing.T) {
	hub := NewWSHub()
	conn := dialHub(t, hub)

	const writers = 16
	const perWriter = 200

	done := make(chan int, 1)
	go func() {
		var msg WSMessage
		n := 0
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		for n < writers*perWriter {
			if err := conn.ReadJSON(&msg); err != nil {
				break
			}
			n++
		}
		done <- n
	}()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				hub.Broadcast(WSMessage{
					Type:  "host_progress",
					Event: &fleet.Event{Host: "web1", Status: model.StatusPatching},
				})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, writers*perWriter, <-done)
	assert.Equal(t, 1, hub.Subscribers())
}

func TestBroadcastDropsClosedSubscriber(t *testing.T) {
	hub := NewWSHub()
	conn := dialHub(t, hub)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		hub.Broadcast(WSMessage{Type: "run_started"})
		return hub.Subscribers() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
