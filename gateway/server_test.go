package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semsub/dependability"
	"github.com/c360/semsub/errors"
	"github.com/c360/semsub/health"
	"github.com/c360/semsub/metric"
	"github.com/c360/semsub/notify"
	"github.com/c360/semsub/scheduler"
	"github.com/c360/semsub/sparql"
	"github.com/c360/semsub/spu"
	"github.com/c360/semsub/testutil"
)

const (
	testSecret   = "gateway-secret-0123456789abcdef"
	testIssuer   = "https://issuer.example"
	testAudience = "semsub"
	testPrefix   = "test.notifications"

	graphG     = "http://example.org/g"
	subscribeG = "SELECT ?value WHERE { GRAPH <http://example.org/g> { ?s ?p ?value } }"
	insert2    = "INSERT DATA { GRAPH <http://example.org/g> { <http://ex/s> <http://ex/p> 2 } }"
)

func value(v string) sparql.Bindings {
	return sparql.NewBindings(map[string]sparql.RDFTerm{"value": sparql.TypedLiteral(v, sparql.XSDInteger)})
}

func token(t *testing.T, subject string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": subject,
		"jti": "jti-" + subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

type harness struct {
	server   *Server
	http     *httptest.Server
	endpoint *testutil.Endpoint
	registry *spu.Registry
	nats     *testutil.MockNATSClient
	metrics  *metric.MetricsRegistry

	mu        sync.Mutex
	healthErr error
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	h := &harness{
		endpoint: testutil.NewEndpoint(),
		nats:     testutil.NewMockNATSClient(),
		metrics:  metric.NewMetricsRegistry(),
	}
	h.endpoint.Seed(func(s *testutil.Store) { s.Insert(graphG, value("1")) })
	h.endpoint.OnUpdate(insert2, func(s *testutil.Store) { s.Insert(graphG, value("2")) })

	authCfg := dependability.DefaultConfig()
	authCfg.Enabled = true
	authCfg.Issuer = testIssuer
	authCfg.Audience = testAudience
	authCfg.Secret = testSecret
	gate, err := dependability.NewGate(dependability.Deps{Config: authCfg, Metrics: h.metrics.CoreMetrics()})
	require.NoError(t, err)

	sched, err := scheduler.New(scheduler.Deps{
		Config:   scheduler.DefaultConfig(),
		Endpoint: h.endpoint,
		Metrics:  h.metrics.CoreMetrics(),
	})
	require.NoError(t, err)

	spuCfg := spu.DefaultConfig()
	spuCfg.Workers = 2
	h.registry, err = spu.NewRegistry(spu.Deps{Config: spuCfg, Reader: sched, Metrics: h.metrics.CoreMetrics()})
	require.NoError(t, err)
	require.NoError(t, h.registry.Start(context.Background()))
	sched.SetRegistry(h.registry)

	cfg := DefaultConfig()
	cfg.RateLimit = 0
	for _, m := range mutate {
		m(&cfg)
	}

	h.server, err = NewServer(Deps{
		Config:          cfg,
		Authorizer:      gate,
		Scheduler:       sched,
		Sessions:        h.registry,
		Publisher:       h.nats,
		SubjectPrefix:   testPrefix,
		MetricsRegistry: h.metrics,
		HealthChecks: map[string]HealthCheck{
			"endpoint": func() health.Status {
				h.mu.Lock()
				defer h.mu.Unlock()
				return health.FromCheck("endpoint", h.healthErr)
			},
		},
	})
	require.NoError(t, err)

	h.http = httptest.NewServer(h.server.Handler())
	t.Cleanup(func() {
		h.server.closeAllConnections()
		h.http.Close()
		_ = h.registry.Stop()
	})
	return h
}

func (h *harness) get(t *testing.T, path, authorization string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.http.URL+path, nil)
	require.NoError(t, err)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) post(t *testing.T, path, contentType, body, authorization string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) update(t *testing.T, text string) {
	t.Helper()
	form := url.Values{"update": {text}}.Encode()
	resp := h.post(t, "/update", mediaFormEncoded, form, token(t, "alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func (h *harness) dial(t *testing.T, authorization string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if authorization != "" {
		header.Set("Authorization", authorization)
	}
	wsURL := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/subscribe"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f serverFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestQuery_Get(t *testing.T) {
	h := newHarness(t)

	resp := h.get(t, "/query?query="+url.QueryEscape(subscribeG), token(t, "alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, mediaSPARQLResults, resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	results, err := sparql.ParseResults(data)
	require.NoError(t, err)
	require.Equal(t, 1, results.Len())
	assert.True(t, results.Rows[0].Equal(value("1")))
}

func TestQuery_PostForms(t *testing.T) {
	h := newHarness(t)

	form := url.Values{"query": {subscribeG}}.Encode()
	resp := h.post(t, "/query", mediaFormEncoded, form, token(t, "alice"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.post(t, "/query", mediaSPARQLQuery, subscribeG, token(t, "alice"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.post(t, "/query", "text/plain", subscribeG, token(t, "alice"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", decodeError(t, resp).Code)
}

func TestQuery_Authorization(t *testing.T) {
	h := newHarness(t)
	path := "/query?query=" + url.QueryEscape(subscribeG)

	resp := h.get(t, path, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", decodeError(t, resp).Code)

	resp = h.get(t, path, "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_client", decodeError(t, resp).Code)

	req, err := http.NewRequest(http.MethodGet, h.http.URL+path, nil)
	require.NoError(t, err)
	req.Header.Add("Authorization", token(t, "alice"))
	req.Header.Add("Authorization", token(t, "alice"))
	dup, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer dup.Body.Close()
	assert.Equal(t, http.StatusBadRequest, dup.StatusCode)

	assert.Equal(t, 0, h.endpoint.QueryCount())
}

func TestQuery_Empty(t *testing.T) {
	h := newHarness(t)

	resp := h.get(t, "/query", token(t, "alice"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeError(t, resp)
	assert.Equal(t, "invalid_request", body.Code)
	assert.Equal(t, "empty SPARQL text", body.Description)
}

func TestUpdate(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/update", mediaSPARQLUpdate, insert2, token(t, "alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ack updateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.Equal(t, uint64(1), ack.Sequence)
	assert.Equal(t, []string{graphG}, ack.Graphs)
	assert.False(t, ack.AllGraphs)
	assert.Equal(t, 1, h.endpoint.UpdateCount())

	resp = h.get(t, "/update?update="+url.QueryEscape(insert2), token(t, "alice"))
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, 1, h.endpoint.UpdateCount())
}

func TestUpdate_EndpointFailure(t *testing.T) {
	h := newHarness(t)
	h.endpoint.FailUpdates(fmt.Errorf("connection refused"))

	resp := h.post(t, "/update", mediaSPARQLUpdate, insert2, token(t, "alice"))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "endpoint_failure", decodeError(t, resp).Code)
}

func TestRequestSizeLimit(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxRequestSize = 64 })

	resp := h.post(t, "/query", mediaSPARQLQuery, subscribeG+strings.Repeat(" ", 100), token(t, "alice"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeError(t, resp).Description, "exceeds maximum size")
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.RateLimit = 1
		c.RateBurst = 1
	})
	path := "/query?query=" + url.QueryEscape(subscribeG)

	assert.Equal(t, http.StatusOK, h.get(t, path, token(t, "alice")).StatusCode)
	resp := h.get(t, path, token(t, "alice"))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", decodeError(t, resp).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	resp := h.get(t, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status health.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, health.StateHealthy, status.Status)
	require.Len(t, status.SubStatuses, 1)
	assert.Equal(t, "endpoint", status.SubStatuses[0].Component)

	h.mu.Lock()
	h.healthErr = fmt.Errorf("dial http://10.0.0.7:8000/query refused")
	h.mu.Unlock()
	resp = h.get(t, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var failed health.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&failed))
	assert.Equal(t, health.StateUnhealthy, failed.Status)
	require.Len(t, failed.SubStatuses, 1)
	assert.NotContains(t, failed.SubStatuses[0].Message, "10.0.0.7")

	h.get(t, "/query?query="+url.QueryEscape(subscribeG), token(t, "alice"))
	resp = h.get(t, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "semsub_scheduler_requests_total")
}

func TestSubscribe_NotificationFlow(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "")

	require.NoError(t, conn.WriteJSON(clientFrame{Subscribe: &subscribeFrame{
		SPARQL:        subscribeG,
		Alias:         "values",
		Authorization: token(t, "alice"),
	}}))
	f := readFrame(t, conn)
	require.NotNil(t, f.Subscribed, "got %+v", f)
	id := f.Subscribed.SubscriptionID
	assert.NotEmpty(t, id)
	assert.Equal(t, "values", f.Subscribed.Alias)
	require.Equal(t, 1, f.Subscribed.FirstResults.Len())
	assert.Equal(t, 1, h.registry.Len())

	h.update(t, insert2)

	f = readFrame(t, conn)
	require.NotNil(t, f.Notification, "got %+v", f)
	assert.Equal(t, id, f.Notification.SubscriptionID)
	assert.Equal(t, "values", f.Notification.Alias)
	assert.Equal(t, uint64(1), f.Notification.Sequence)
	require.Equal(t, 1, f.Notification.Results.Added.Len())
	assert.True(t, f.Notification.Results.Added.Rows[0].Equal(value("2")))

	require.NoError(t, conn.WriteJSON(clientFrame{Unsubscribe: &unsubscribeFrame{
		SubscriptionID: id,
		Authorization:  token(t, "alice"),
	}}))
	f = readFrame(t, conn)
	require.NotNil(t, f.Unsubscribed, "got %+v", f)
	assert.Equal(t, id, f.Unsubscribed.SubscriptionID)
	assert.Equal(t, "values", f.Unsubscribed.Alias)
	assert.Equal(t, 0, h.registry.Len())
}

func TestSubscribe_UpgradeHeaderAuthorization(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, token(t, "alice"))

	require.NoError(t, conn.WriteJSON(clientFrame{Subscribe: &subscribeFrame{SPARQL: subscribeG}}))
	f := readFrame(t, conn)
	require.NotNil(t, f.Subscribed, "got %+v", f)
	sub, ok := h.registry.Get(f.Subscribed.SubscriptionID)
	require.True(t, ok)
	assert.Equal(t, "alice", sub.Owner())
}

func TestSubscribe_Errors(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "")

	require.NoError(t, conn.WriteJSON(clientFrame{Subscribe: &subscribeFrame{SPARQL: subscribeG}}))
	f := readFrame(t, conn)
	require.NotNil(t, f.Error)
	assert.Equal(t, "invalid_request", f.Error.Code)
	assert.Equal(t, http.StatusBadRequest, f.Error.Status)

	require.NoError(t, conn.WriteJSON(clientFrame{Subscribe: &subscribeFrame{
		SPARQL: subscribeG, Authorization: "Bearer forged",
	}}))
	f = readFrame(t, conn)
	require.NotNil(t, f.Error)
	assert.Equal(t, "invalid_client", f.Error.Code)
	assert.Equal(t, http.StatusUnauthorized, f.Error.Status)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f = readFrame(t, conn)
	require.NotNil(t, f.Error)
	assert.Equal(t, "invalid_request", f.Error.Code)

	require.NoError(t, conn.WriteJSON(clientFrame{}))
	f = readFrame(t, conn)
	require.NotNil(t, f.Error)
	assert.Equal(t, "invalid_request", f.Error.Code)

	require.NoError(t, conn.WriteJSON(clientFrame{Subscribe: &subscribeFrame{
		SPARQL: subscribeG, Authorization: token(t, "alice"), Delivery: "carrier-pigeon",
	}}))
	f = readFrame(t, conn)
	require.NotNil(t, f.Error)
	assert.Equal(t, "invalid_request", f.Error.Code)

	assert.Equal(t, 0, h.registry.Len())
}

func TestUnsubscribe_OwnerOnly(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "")

	require.NoError(t, conn.WriteJSON(clientFrame{Subscribe: &subscribeFrame{
		SPARQL: subscribeG, Authorization: token(t, "alice"),
	}}))
	f := readFrame(t, conn)
	require.NotNil(t, f.Subscribed)
	id := f.Subscribed.SubscriptionID

	require.NoError(t, conn.WriteJSON(clientFrame{Unsubscribe: &unsubscribeFrame{
		SubscriptionID: id, Authorization: token(t, "bob"),
	}}))
	f = readFrame(t, conn)
	require.NotNil(t, f.Error)
	assert.Equal(t, "forbidden", f.Error.Code)
	assert.Equal(t, id, f.Error.SubscriptionID)

	require.NoError(t, conn.WriteJSON(clientFrame{Unsubscribe: &unsubscribeFrame{
		SubscriptionID: "spu-unknown", Authorization: token(t, "alice"),
	}}))
	f = readFrame(t, conn)
	require.NotNil(t, f.Error)
	assert.Equal(t, "subscription_not_found", f.Error.Code)
	assert.Equal(t, http.StatusNotFound, f.Error.Status)

	assert.Equal(t, 1, h.registry.Len())
}

func TestSubscribe_ConnectionLossRemovesSubscriptions(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, token(t, "alice"))

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.WriteJSON(clientFrame{Subscribe: &subscribeFrame{SPARQL: subscribeG}}))
		f := readFrame(t, conn)
		require.NotNil(t, f.Subscribed)
	}
	require.Equal(t, 2, h.registry.Len())
	assert.Equal(t, 1, h.server.ConnectionCount())

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return h.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return h.server.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribe_NATSDelivery(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, token(t, "alice"))

	require.NoError(t, conn.WriteJSON(clientFrame{Subscribe: &subscribeFrame{
		SPARQL: subscribeG, Alias: "over-nats", Delivery: DeliveryNATS,
	}}))
	f := readFrame(t, conn)
	require.NotNil(t, f.Subscribed, "got %+v", f)
	id := f.Subscribed.SubscriptionID
	assert.Equal(t, testPrefix+"."+id, f.Subscribed.Subject)

	h.update(t, insert2)

	msgs := testutil.WaitForMessageCount(t, h.nats, f.Subscribed.Subject, 1, 2*time.Second)
	var n notify.Notification
	require.NoError(t, json.Unmarshal(msgs[0], &n))
	assert.Equal(t, id, n.SubscriptionID)
	assert.Equal(t, "over-nats", n.Alias)
	require.Equal(t, 1, n.Results.Added.Len())
	assert.True(t, n.Results.Added.Rows[0].Equal(value("2")))
}

func TestSubscribe_RequiresUpgrade(t *testing.T) {
	h := newHarness(t)
	resp := h.get(t, "/subscribe", token(t, "alice"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_Shutdown(t *testing.T) {
	h := newHarness(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.server.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"auth", &dependability.AuthError{Code: dependability.InvalidGrant, Description: "token expired"}, http.StatusUnauthorized, "invalid_grant"},
		{"not found", errors.WrapInvalid(errors.ErrSubscriptionNotFound, "Registry", "Unregister", "find"), http.StatusNotFound, "subscription_not_found"},
		{"not owner", errors.WrapInvalid(errors.ErrNotOwner, "Registry", "Unregister", "check"), http.StatusForbidden, "forbidden"},
		{"rate limited", errors.WrapTransient(errors.ErrRateLimited, "Server", "x", "admit"), http.StatusTooManyRequests, "rate_limited"},
		{"shutting down", errors.WrapFatal(errors.ErrShuttingDown, "Scheduler", "Submit", "admit"), http.StatusServiceUnavailable, "unavailable"},
		{"deadline", errors.WrapTransient(context.DeadlineExceeded, "Scheduler", "admit", "wait"), http.StatusGatewayTimeout, "timeout"},
		{"invalid", errors.WrapInvalid(fmt.Errorf("%w: bad", errors.ErrInvalidRequest), "Scheduler", "Submit", "validate"), http.StatusBadRequest, "invalid_request"},
		{"fatal", errors.WrapFatal(errors.ErrNotStarted, "Scheduler", "subscribe", "find"), http.StatusInternalServerError, "internal_error"},
		{"endpoint", errors.WrapTransient(fmt.Errorf("%w: refused", errors.ErrEndpointFailure), "Client", "Query", "send"), http.StatusBadGateway, "endpoint_failure"},
		{"transient", errors.WrapTransient(errors.ErrNoConnection, "Client", "Query", "send"), http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := errorResponse(tt.err)
			assert.Equal(t, tt.status, body.Status)
			assert.Equal(t, tt.code, body.Code)
		})
	}

	assert.Equal(t, "bad", errorResponse(tests[6].err).Description)
	assert.Equal(t, "token expired", errorResponse(tests[0].err).Description)
}

func TestLimiterSet(t *testing.T) {
	var none *limiterSet
	assert.True(t, none.Allow("anyone"))
	assert.Nil(t, newLimiterSet(0, 1, time.Minute))

	l := newLimiterSet(1, 2, time.Minute)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.Equal(t, 2, l.Len())

	assert.Equal(t, 0, l.Prune(time.Now()))
	assert.Equal(t, 2, l.Prune(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, l.Len())
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.ListenAddress = "" }},
		{"relative path", func(c *Config) { c.QueryPath = "query" }},
		{"zero request size", func(c *Config) { c.MaxRequestSize = 0 }},
		{"huge request size", func(c *Config) { c.MaxRequestSize = 200 * 1024 * 1024 }},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }},
		{"rate without burst", func(c *Config) { c.RateBurst = 0 }},
		{"pong before ping", func(c *Config) { c.PongTimeout = c.PingInterval }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }},
		{"zero buffer", func(c *Config) { c.NotificationBuffer = 0 }},
		{"cors without origins", func(c *Config) { c.EnableCORS = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}

func TestEventOrder(t *testing.T) {
	note := func(id string, seq uint64) notify.Event {
		return notify.Event{SubscriptionID: id, Notification: &notify.Notification{SubscriptionID: id, Sequence: seq}}
	}
	failed := notify.Event{SubscriptionID: "spu-a", Err: errors.ErrEndpointFailure}

	t.Run("held until subscribed", func(t *testing.T) {
		o := newEventOrder()
		assert.False(t, o.deliver(note("spu-a", 1)))
		assert.False(t, o.deliver(note("spu-a", 2)))

		released := o.replied(serverFrame{Subscribed: &subscribedFrame{SubscriptionID: "spu-a"}})
		require.Len(t, released, 2)
		assert.Equal(t, uint64(1), released[0].Notification.Sequence)
		assert.Empty(t, o.held)
		assert.True(t, o.deliver(note("spu-a", 3)))
	})

	t.Run("events after unsubscribed are dropped", func(t *testing.T) {
		o := newEventOrder()
		o.replied(serverFrame{Subscribed: &subscribedFrame{SubscriptionID: "spu-a"}})
		o.replied(serverFrame{Unsubscribed: &unsubscribedFrame{SubscriptionID: "spu-a"}})

		for seq := uint64(1); seq <= 100; seq++ {
			assert.False(t, o.deliver(note("spu-a", seq)))
		}
		assert.Empty(t, o.held, "nothing is held for an unsubscribed id")
	})

	t.Run("unsubscribed before announced drops held events", func(t *testing.T) {
		o := newEventOrder()
		o.deliver(note("spu-a", 1))
		o.replied(serverFrame{Unsubscribed: &unsubscribedFrame{SubscriptionID: "spu-a"}})
		assert.Empty(t, o.held)
	})

	t.Run("failure ends the subscription", func(t *testing.T) {
		o := newEventOrder()
		o.replied(serverFrame{Subscribed: &subscribedFrame{SubscriptionID: "spu-a"}})
		assert.True(t, o.deliver(failed))
		assert.False(t, o.deliver(note("spu-a", 9)))
		assert.Empty(t, o.held)
	})

	t.Run("held failure truncates the release", func(t *testing.T) {
		o := newEventOrder()
		o.deliver(note("spu-a", 1))
		o.deliver(failed)
		o.deliver(note("spu-a", 2))

		released := o.replied(serverFrame{Subscribed: &subscribedFrame{SubscriptionID: "spu-a"}})
		require.Len(t, released, 2)
		assert.Equal(t, errors.ErrEndpointFailure, released[1].Err)
		assert.False(t, o.deliver(note("spu-a", 3)))
	})

	t.Run("other subscriptions are unaffected", func(t *testing.T) {
		o := newEventOrder()
		o.replied(serverFrame{Subscribed: &subscribedFrame{SubscriptionID: "spu-b"}})
		o.replied(serverFrame{Unsubscribed: &unsubscribedFrame{SubscriptionID: "spu-a"}})
		assert.True(t, o.deliver(note("spu-b", 1)))
	})
}
