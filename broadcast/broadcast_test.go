package broadcast

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func TestHexUint(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0x0", HexUint(0))
	require.Equal(t, "0x1a", HexUint(26))
}

func TestPublishHeadReachesSubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub(hclog.NewNullLogger())
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// give the server a moment to register the subscriber
	time.Sleep(20 * time.Millisecond)

	hub.PublishHead(Head{Number: "0x1", Timestamp: "0x2"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string `json:"type"`
		Data Head   `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, "head", msg.Type)
	require.Equal(t, "0x1", msg.Data.Number)
}
