package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guildwire/guildwire/internal/api"
	"github.com/guildwire/guildwire/internal/config"
	"github.com/guildwire/guildwire/internal/gateway"
	"github.com/guildwire/guildwire/internal/logging"
	"github.com/guildwire/guildwire/internal/models"
)

// scriptedConn is a gateway connection driven by the test.
type scriptedConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{in: make(chan []byte, 16), out: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *scriptedConn) ReadMessage() ([]byte, error) {
	select {
	case d := <-c.in:
		return d, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *scriptedConn) WriteMessage(data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	}
}

func (c *scriptedConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptedConn) send(t *testing.T, op int, eventType string, d interface{}) {
	t.Helper()
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	p := models.GatewayPayload{Op: op, D: raw, T: eventType}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	c.in <- data
}

func (c *scriptedConn) waitOp(t *testing.T, op int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-c.out:
			var p models.GatewayPayload
			if err := json.Unmarshal(data, &p); err != nil {
				t.Fatal(err)
			}
			if p.Op == op {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for op %d", op)
		}
	}
}

type restServer struct {
	*httptest.Server
	hits sync.Map // "METHOD path" -> *atomic.Int32
}

func (s *restServer) count(key string) int32 {
	v, ok := s.hits.Load(key)
	if !ok {
		return 0
	}
	return v.(*atomic.Int32).Load()
}

func newRESTServer(t *testing.T) *restServer {
	t.Helper()
	s := &restServer{}
	s.Server = httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		key := r.Method + " " + r.URL.Path
		v, _ := s.hits.LoadOrStore(key, &atomic.Int32{})
		v.(*atomic.Int32).Add(1)

		w.Header().Set("Content-Type", "application/json")
		switch key {
		case "GET /gateway/bot":
			w.Write([]byte(`{"url":"wss://gw.test","shards":1,"session_start_limit":{"total":1000,"remaining":999}}`))
		case "PATCH /guilds/1/roles/5":
			w.Write([]byte(`{"id":"5","name":"mod","position":1,"permissions":"8"}`))
		case "DELETE /channels/30":
			w.Write([]byte(`{"id":"30","type":0,"name":"chat"}`))
		default:
			w.WriteHeader(nethttp.StatusNotFound)
			w.Write([]byte(`{"code":10003,"message":"Unknown Channel"}`))
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func testConfig(apiURL string) *config.Config {
	cfg := config.NewConfig()
	cfg.Token = "abc"
	cfg.REST.APIURL = apiURL
	return cfg
}

func startEngine(t *testing.T) (*Engine, *scriptedConn, *restServer, *[]string) {
	t.Helper()
	rest := newRESTServer(t)
	conn := newScriptedConn()
	var dialed []string
	dialer := func(ctx context.Context, rawURL string) (gateway.Conn, error) {
		dialed = append(dialed, rawURL)
		return conn, nil
	}

	e, err := NewEngine(testConfig(rest.URL), logging.NewNop(), WithDialer(dialer))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}

	conn.send(t, gateway.OpHello, "", models.Hello{HeartbeatInterval: 45000})
	conn.waitOp(t, gateway.OpIdentify)
	conn.send(t, gateway.OpDispatch, "READY", models.Ready{
		User:      models.User{ID: 99, Username: "bot"},
		SessionID: "s1",
		Guilds:    []models.UnavailableGuild{{ID: 1, Unavailable: true}},
	})
	conn.send(t, gateway.OpDispatch, "GUILD_CREATE", models.Guild{
		ID:          1,
		Name:        "hangout",
		MemberCount: 1,
		Roles:       []models.Role{{ID: 5, Name: "mod", Position: 1, Permissions: 1}},
		Members:     []models.Member{{User: &models.User{ID: 10, Username: "a"}, Roles: []models.Snowflake{5}}},
		Channels: []models.Channel{
			{ID: 30, Type: models.ChannelTypeText, Name: "chat"},
			{ID: 31, Type: models.ChannelTypeText, Name: "other"},
		},
	})

	if err := e.WaitReady(ctx); err != nil {
		t.Fatalf("session never became ready: %v", err)
	}
	return e, conn, rest, &dialed
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	_, err := NewEngine(config.NewConfig(), nil)
	if !errors.Is(err, config.ErrMissingToken) {
		t.Errorf("expected ErrMissingToken, got %v", err)
	}
}

func TestEngineStartResolvesGatewayAndLoadsGuilds(t *testing.T) {
	e, _, rest, dialed := startEngine(t)

	if got := rest.count("GET /gateway/bot"); got != 1 {
		t.Errorf("gateway lookups = %d, want 1", got)
	}
	if len(*dialed) != 1 || !strings.HasPrefix((*dialed)[0], "wss://gw.test") {
		t.Errorf("dialed %v", *dialed)
	}

	g, ok := e.Cache().Guild(1)
	if !ok {
		t.Fatal("guild 1 not ready")
	}
	if g.Name() != "hangout" || g.Channels.Len() != 2 {
		t.Errorf("unexpected guild %s with %d channels", g.Name(), g.Channels.Len())
	}
	if self, ok := e.Cache().Self(); !ok || self.ID != 99 {
		t.Error("self user not recorded")
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start returned %v", err)
	}
}

func TestEngineModifyRoleUpdatesCacheInPlace(t *testing.T) {
	e, _, _, _ := startEngine(t)
	held, ok := e.Cache().Role(5)
	if !ok {
		t.Fatal("role 5 not cached")
	}

	perms := models.Permissions(8)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	role, err := e.ModifyRole(ctx, 1, 5, api.RoleUpdate{Permissions: &perms}, api.WithReason("tighten"))
	if err != nil {
		t.Fatal(err)
	}
	if role.Permissions != 8 {
		t.Errorf("returned permissions = %d", role.Permissions)
	}

	same, _ := e.Cache().Role(5)
	if same != held {
		t.Error("role identity changed")
	}
	if held.Permissions() != 8 {
		t.Errorf("cached permissions = %d, want 8", held.Permissions())
	}
}

func TestEngineDeleteChannel(t *testing.T) {
	e, _, rest, _ := startEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := e.DeleteChannel(ctx, 30); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.Cache().Channel(30); ok {
		t.Error("channel 30 still cached")
	}
	if got := rest.count("DELETE /channels/30"); got != 1 {
		t.Errorf("delete calls = %d", got)
	}

	err := e.DeleteChannel(ctx, 999)
	if _, ok := api.IsAPIError(err); !ok {
		t.Errorf("expected APIError for unknown channel, got %v", err)
	}
}

func TestEngineFailsFastForUnavailableGuild(t *testing.T) {
	e, conn, rest, _ := startEngine(t)

	conn.send(t, gateway.OpDispatch, "GUILD_DELETE", models.UnavailableGuild{ID: 1, Unavailable: true})
	deadline := time.Now().Add(2 * time.Second)
	for !e.Cache().Unavailable(1) {
		if time.Now().After(deadline) {
			t.Fatal("guild never became unavailable")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx := context.Background()
	if err := e.DeleteChannel(ctx, 31); !api.IsUnavailable(err) {
		t.Errorf("DeleteChannel returned %v", err)
	}
	if _, err := e.SendMessage(ctx, 31, "hi"); !api.IsUnavailable(err) {
		t.Errorf("SendMessage returned %v", err)
	}
	perms := models.Permissions(8)
	if _, err := e.ModifyRole(ctx, 1, 5, api.RoleUpdate{Permissions: &perms}); !api.IsUnavailable(err) {
		t.Errorf("ModifyRole returned %v", err)
	}
	if got := rest.count("DELETE /channels/31") + rest.count("PATCH /guilds/1/roles/5"); got != 0 {
		t.Errorf("REST calls made for unavailable guild: %d", got)
	}
}

func TestEngineBucketsAndStop(t *testing.T) {
	e, _, _, _ := startEngine(t)
	if len(e.Buckets()) == 0 {
		t.Error("expected at least the unlimited bucket")
	}

	e.Stop()
	e.Stop()
	ctx := context.Background()
	if _, err := e.API().GetCurrentUser(ctx); err == nil {
		t.Error("expected calls to fail after Stop")
	}
}
