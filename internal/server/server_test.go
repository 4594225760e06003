package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gravitas-games/flowfield/internal/config"
	"github.com/gravitas-games/flowfield/internal/graph"
	"github.com/gravitas-games/flowfield/internal/grid"
	"github.com/gravitas-games/flowfield/internal/nav"
	"github.com/gravitas-games/flowfield/internal/network"
	"github.com/gravitas-games/flowfield/pkg/models"
)

const testIssuer = "login.test"

type harness struct {
	t      *testing.T
	key    *ecdsa.PrivateKey
	engine *nav.Engine
	srv    *Server
	ts     *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	keySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pemKey)
	}))
	t.Cleanup(keySrv.Close)

	cfg := config.Default()
	cfg.JWT.Issuer = testIssuer
	cfg.JWT.PublicKeyURL = keySrv.URL

	world, err := grid.NewWorld(grid.Dimensions{Columns: 2, Rows: 1, Resolution: 4}, grid.Cheapest)
	require.NoError(t, err)
	bus := nav.NewSimpleEventBus()
	engine, err := nav.NewEngine(world, nav.OptionsFromConfig(cfg), zap.NewNop(), bus)
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	srv, err := New(cfg, engine, bus, zap.NewNop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})

	return &harness{t: t, key: key, engine: engine, srv: srv, ts: ts}
}

func (h *harness) token(perms int64, activated int64) string {
	h.t.Helper()
	claims := Claims{
		UserID:      42,
		Username:    "scout",
		Permissions: perms,
		Activated:   activated,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(h.key)
	require.NoError(h.t, err)
	return signed
}

func (h *harness) dial(token string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws"
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func (h *harness) connect(perms int64) *websocket.Conn {
	h.t.Helper()
	ws, _, err := h.dial(h.token(perms, 1))
	require.NoError(h.t, err)
	h.t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, typ string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(network.ClientMessage{Type: typ, Payload: raw}))
}

// expect reads until a message of type typ arrives and decodes its payload.
func expect(t *testing.T, ws *websocket.Conn, typ string, out interface{}) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, ws.ReadJSON(&msg))
		if msg.Type != typ {
			continue
		}
		if out != nil {
			require.NoError(t, json.Unmarshal(msg.Payload, out))
		}
		return
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestRejectsMissingAndInvalidTokens(t *testing.T) {
	h := newHarness(t)

	_, resp, err := h.dial("")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = h.dial(h.token(models.PermRequestPaths, 0))
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodES256, Claims{
		UserID:    1,
		Activated: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(other)
	require.NoError(t, err)
	_, resp, err = h.dial(forged)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPing(t *testing.T) {
	h := newHarness(t)
	ws := h.connect(models.PermRequestPaths)

	send(t, ws, network.MsgTypePing, struct{}{})
	var pong network.PongPayload
	expect(t, ws, network.MsgTypePong, &pong)
	assert.NotZero(t, pong.Timestamp)
}

func TestPathRequestDeliversRouteAndFields(t *testing.T) {
	h := newHarness(t)
	ws := h.connect(models.PermRequestPaths)

	source := graph.Endpoint{Region: grid.RegionID{Column: 0}, Cell: grid.FieldCell{Column: 0, Row: 0}}
	target := graph.Endpoint{Region: grid.RegionID{Column: 1}, Cell: grid.FieldCell{Column: 3, Row: 3}}
	send(t, ws, network.MsgTypePathRequest, network.PathRequestPayload{Source: source, Target: target})

	var accepted network.PathAcceptedPayload
	expect(t, ws, network.MsgTypePathAccepted, &accepted)
	require.NotEmpty(t, accepted.RequestID)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.engine.Tick(context.Background()))
	}

	// pushes are delivered asynchronously and may arrive in any order
	var route *network.RoutePayload
	var pushed *network.FieldPayload
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for route == nil || pushed == nil {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, ws.ReadJSON(&msg))
		switch msg.Type {
		case network.MsgTypeRoute:
			route = &network.RoutePayload{}
			require.NoError(t, json.Unmarshal(msg.Payload, route))
		case network.MsgTypeField:
			if pushed == nil {
				pushed = &network.FieldPayload{}
				require.NoError(t, json.Unmarshal(msg.Payload, pushed))
			}
		}
	}
	assert.Equal(t, accepted.RequestID, route.RequestID)
	assert.True(t, route.Ready)
	require.NotNil(t, route.Route)
	assert.Equal(t, graph.RouteFound, route.Route.Status)

	assert.Equal(t, accepted.RequestID, pushed.RequestID)
	assert.True(t, pushed.Ready)
	assert.Len(t, pushed.Cells, 16)

	send(t, ws, network.MsgTypeFieldQuery, network.FieldQueryPayload{Region: target.Region, Goal: target.Cell})
	var queried network.FieldPayload
	for {
		queried = network.FieldPayload{}
		expect(t, ws, network.MsgTypeField, &queried)
		if queried.RequestID == "" {
			break
		}
	}
	assert.True(t, queried.Ready)
	assert.Equal(t, 4, queried.Resolution)
	require.Len(t, queried.Cells, 16)
	assert.NotZero(t, queried.Cells[3*4+3]&0x40, "goal bit on target cell")

	send(t, ws, network.MsgTypeRouteQuery, network.RouteQueryPayload{Source: source, Target: target})
	var queriedRoute network.RoutePayload
	for {
		queriedRoute = network.RoutePayload{}
		expect(t, ws, network.MsgTypeRoute, &queriedRoute)
		if queriedRoute.RequestID == "" {
			break
		}
	}
	assert.True(t, queriedRoute.Ready)
}

func TestPathRequestErrors(t *testing.T) {
	h := newHarness(t)
	ws := h.connect(models.PermRequestPaths)

	send(t, ws, network.MsgTypePathRequest, network.PathRequestPayload{
		Class:  "hover",
		Target: graph.Endpoint{Region: grid.RegionID{Column: 1}},
	})
	var e network.ErrorPayload
	expect(t, ws, network.MsgTypeError, &e)
	assert.Equal(t, "unknown_class", e.Code)

	send(t, ws, network.MsgTypePathRequest, network.PathRequestPayload{
		Target: graph.Endpoint{Region: grid.RegionID{Column: 5}},
	})
	expect(t, ws, network.MsgTypeError, &e)
	assert.Equal(t, "out_of_bounds", e.Code)

	send(t, ws, "teleport", struct{}{})
	expect(t, ws, network.MsgTypeError, &e)
	assert.Equal(t, "unknown_message_type", e.Code)
}

func TestCostMutationRequiresPermission(t *testing.T) {
	h := newHarness(t)
	mutation := network.CostMutationPayload{
		Region: grid.RegionID{Column: 1},
		Cell:   grid.FieldCell{Column: 2, Row: 2},
		Cost:   grid.Impassable,
	}

	reader := h.connect(models.PermRequestPaths)
	send(t, reader, network.MsgTypeCostMutation, mutation)
	var e network.ErrorPayload
	expect(t, reader, network.MsgTypeError, &e)
	assert.Equal(t, "forbidden", e.Code)
	assert.Equal(t, 0, h.engine.PendingMutations())

	editor := h.connect(models.PermRequestPaths | models.PermMutateCosts)
	send(t, editor, network.MsgTypeCostMutation, mutation)
	var accepted network.MutationAcceptedPayload
	expect(t, editor, network.MsgTypeMutationAccepted, &accepted)
	assert.Equal(t, mutation.Cell, accepted.Cell)
	assert.Equal(t, 1, h.engine.PendingMutations())

	require.NoError(t, h.engine.Tick(context.Background()))
	cost, err := h.engine.Cost(mutation.Region, mutation.Cell)
	require.NoError(t, err)
	assert.Equal(t, grid.Impassable, cost)
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	assert.Equal(t, "q", extractTokenFromHeader(r))

	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", extractTokenFromHeader(r))

	r.Header.Set("Sec-WebSocket-Protocol", "access_token, p")
	assert.Equal(t, "p", extractTokenFromHeader(r))
}

func TestIdenticalRequestsFromTwoClientsBothReceiveRoute(t *testing.T) {
	h := newHarness(t)
	first := h.connect(models.PermRequestPaths)
	second := h.connect(models.PermRequestPaths)

	req := network.PathRequestPayload{
		Source: graph.Endpoint{Region: grid.RegionID{Column: 0}, Cell: grid.FieldCell{Column: 0, Row: 0}},
		Target: graph.Endpoint{Region: grid.RegionID{Column: 1}, Cell: grid.FieldCell{Column: 2, Row: 1}},
	}
	var a, b network.PathAcceptedPayload
	send(t, first, network.MsgTypePathRequest, req)
	expect(t, first, network.MsgTypePathAccepted, &a)
	send(t, second, network.MsgTypePathRequest, req)
	expect(t, second, network.MsgTypePathAccepted, &b)
	require.Equal(t, a.RequestID, b.RequestID)

	require.NoError(t, h.engine.Tick(context.Background()))

	for _, ws := range []*websocket.Conn{first, second} {
		var route network.RoutePayload
		expect(t, ws, network.MsgTypeRoute, &route)
		assert.Equal(t, a.RequestID, route.RequestID)
		assert.True(t, route.Ready)
	}
}

func TestRouteIsPushedWhilePipelineRuns(t *testing.T) {
	h := newHarness(t)
	ws := h.connect(models.PermRequestPaths)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	for row := 0; row < 4; row++ {
		send(t, ws, network.MsgTypePathRequest, network.PathRequestPayload{
			Source: graph.Endpoint{Region: grid.RegionID{Column: 0}},
			Target: graph.Endpoint{Region: grid.RegionID{Column: 1}, Cell: grid.FieldCell{Column: 3, Row: row}},
		})
	}

	accepted := map[string]bool{}
	routed := map[string]bool{}
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	// a route push may overtake its path_accepted reply
	for len(routed) < 4 || len(accepted) < 4 {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, ws.ReadJSON(&msg))
		switch msg.Type {
		case network.MsgTypePathAccepted:
			var p network.PathAcceptedPayload
			require.NoError(t, json.Unmarshal(msg.Payload, &p))
			accepted[p.RequestID] = true
		case network.MsgTypeRoute:
			var p network.RoutePayload
			require.NoError(t, json.Unmarshal(msg.Payload, &p))
			routed[p.RequestID] = true
		}
	}
	for id := range routed {
		assert.True(t, accepted[id], "route %s was never accepted", id)
	}
}
