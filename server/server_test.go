package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shuliangfu/wsmesh/wserrors"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRejectsBadEncryptionKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Encryption.Key = []byte("short")
	if _, err := New(cfg); err == nil {
		t.Fatal("expected key-length error")
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "/"},
		{"/", "/"},
		{"chat", "/chat"},
		{"/chat", "/chat"},
		{"/chat/", "/chat"},
	}
	for _, c := range cases {
		if got := normalizePath(c.in); got != c.want {
			t.Fatalf("normalizePath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestOfReturnsSameNamespace(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	a := s.Of("/chat")
	b := s.Of("chat/")
	if a != b {
		t.Fatal("Of should normalize and return the registered namespace")
	}
	if s.Of("/") == nil {
		t.Fatal("default namespace missing")
	}
	if got := a.Name(); got != "/chat" {
		t.Fatalf("Name = %q", got)
	}
}

func TestResolveNamespaceLongestPrefix(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	chat := s.Of("/chat")
	admin := s.Of("/chat/admin")

	cases := []struct {
		path string
		want *Namespace
	}{
		{"/", s.Of("/")},
		{"/chat", chat},
		{"/chat/room1", chat},
		{"/chat/admin", admin},
		{"/chat/admin/x", admin},
		{"/nope", nil},
	}
	for _, c := range cases {
		if got := s.resolveNamespace(c.path); got != c.want {
			t.Fatalf("resolveNamespace(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}

func TestDefaultNamespaceMatchesOnlyBasePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = "/ws"
	s := newTestServer(t, cfg)
	if got := s.resolveNamespace("/ws"); got != s.Of("/") {
		t.Fatalf("base path should resolve to default namespace, got %v", got)
	}
	if got := s.resolveNamespace("/"); got != nil {
		t.Fatalf("off-base path resolved to %v", got)
	}
}

func TestUpgradeUnknownNamespaceIs404(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestUpgradeOriginRejectedIs403(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"good.example.com"}
	s := newTestServer(t, cfg)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestMiddlewareRejectionStatusCodes(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	s.Use(func(hs *Handshake) error {
		switch hs.Query.Get("who") {
		case "stranger":
			return wserrors.Wrap(wserrors.ScopeServer, wserrors.StageUpgrade, wserrors.CodeUnauthorized, errors.New("no token"))
		case "broken":
			return errors.New("middleware exploded")
		}
		return nil
	})
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	cases := []struct {
		query string
		want  int
	}{
		{"?who=stranger", http.StatusUnauthorized},
		{"?who=broken", http.StatusInternalServerError},
	}
	for _, c := range cases {
		resp, err := http.Get(ts.URL + "/" + c.query)
		if err != nil {
			t.Fatalf("get %s: %v", c.query, err)
		}
		resp.Body.Close()
		if resp.StatusCode != c.want {
			t.Fatalf("%s: status = %d, want %d", c.query, resp.StatusCode, c.want)
		}
	}
}

func TestMiddlewareDataReachesPeer(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	s.Use(func(hs *Handshake) error {
		hs.Data["user"] = "alice"
		return nil
	})
	u, err := url.ParseRequestURI("/?x=1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	hs := newHandshake(httptest.NewRequest(http.MethodGet, "/?x=1", nil), u, "/")
	if err := s.runMiddleware(s.Of("/"), hs); err != nil {
		t.Fatalf("middleware: %v", err)
	}
	p := s.newPeer(nil, s.Of("/"), hs)
	v, ok := p.Value("user")
	if !ok || v != "alice" {
		t.Fatalf("Value(user) = %v, %v", v, ok)
	}
}

func TestCollectTargetsExcludesSender(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	ns := s.Of("/")
	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		p := s.newPeer(nil, ns, &Handshake{Data: map[string]interface{}{}})
		s.peers[p.id] = p
		ids = append(ids, p.id)
	}
	s.rooms.Join("room1", ids[0])
	s.rooms.Join("room1", ids[1])

	all := s.collectTargets(nil, ids[0])
	if len(all) != 2 {
		t.Fatalf("global audience = %d, want 2", len(all))
	}
	for _, p := range all {
		if p.id == ids[0] {
			t.Fatal("sender included in global audience")
		}
	}

	room := s.collectTargets([]string{"room1"}, ids[0])
	if len(room) != 1 || room[0].id != ids[1] {
		t.Fatalf("room audience = %v", room)
	}

	if got := s.collectTargets([]string{"empty-room"}, ""); len(got) != 0 {
		t.Fatalf("empty room audience = %d", len(got))
	}
}

func TestStatsSnapshot(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	ns := s.Of("/extra")
	p := s.newPeer(nil, ns, &Handshake{Data: map[string]interface{}{}})
	s.peers[p.id] = p
	s.rooms.Join("r", p.id)

	st := s.Stats()
	if st.ServerID != s.ID() {
		t.Fatalf("ServerID = %q", st.ServerID)
	}
	if st.Peers != 1 || st.Rooms != 1 || st.Namespaces != 2 {
		t.Fatalf("snapshot = %+v", st)
	}
}
