package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gravitas-games/flowfield/internal/graph"
	"github.com/gravitas-games/flowfield/internal/nav"
	"github.com/gravitas-games/flowfield/internal/network"
	"github.com/gravitas-games/flowfield/pkg/models"
)

// offlineConnection buffers outbound messages without a socket.
func offlineConnection(id string) *Connection {
	return &Connection{
		logger: zap.NewNop(),
		client: &models.Client{ID: id},
		send:   make(chan []byte, 16),
	}
}

func received(t *testing.T, c *Connection) []string {
	t.Helper()
	var types []string
	for {
		select {
		case data := <-c.send:
			var msg struct {
				Type string `json:"type"`
			}
			require.NoError(t, json.Unmarshal(data, &msg))
			types = append(types, msg.Type)
		default:
			return types
		}
	}
}

func TestSharedRequestReachesEveryRequester(t *testing.T) {
	s := NewSession("test", time.Minute, zap.NewNop())
	a, b := offlineConnection("1"), offlineConnection("2")
	s.AddClient(a.client, a)
	s.AddClient(b.client, b)

	s.Track("req-1", a)
	s.Track("req-1", b)

	route := graph.Route{Status: graph.RouteFound}
	s.Handle(nav.Event{Type: nav.EventRoutePlanned, RequestID: "req-1", Layer: "default", Route: &route})
	assert.Equal(t, []string{network.MsgTypeRoute}, received(t, a))
	assert.Equal(t, []string{network.MsgTypeRoute}, received(t, b))

	s.RemoveClient(a)
	s.Handle(nav.Event{Type: nav.EventFieldPublished, RequestID: "req-1", Layer: "default"})
	assert.Empty(t, received(t, a))
	assert.Equal(t, []string{network.MsgTypeField}, received(t, b))
	assert.Equal(t, 1, s.Status().PendingRequests)

	s.RemoveClient(b)
	assert.Equal(t, 0, s.Status().PendingRequests)
}

func TestUnreachableRouteForgetsAllRequesters(t *testing.T) {
	s := NewSession("test", time.Minute, zap.NewNop())
	a, b := offlineConnection("1"), offlineConnection("2")
	s.Track("req-2", a)
	s.Track("req-2", b)

	s.Handle(nav.Event{Type: nav.EventRouteUnreachable, RequestID: "req-2", Route: &graph.Route{Status: graph.RouteUnreachable}})
	assert.Len(t, received(t, a), 1)
	assert.Len(t, received(t, b), 1)
	assert.Equal(t, 0, s.Status().PendingRequests)

	s.Handle(nav.Event{Type: nav.EventFieldPublished, RequestID: "req-2"})
	assert.Empty(t, received(t, a))
	assert.Empty(t, received(t, b))
}
