package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/course-checkout/internal/export"
	"github.com/wolfman30/course-checkout/internal/http/middleware"
	"github.com/wolfman30/course-checkout/internal/icons"
	"github.com/wolfman30/course-checkout/internal/observability/metrics"
	"github.com/wolfman30/course-checkout/pkg/logging"
)

type testEnv struct {
	handler  *Handler
	registry *Registry
	tokens   *Tokens
	exports  *export.MemorySink
	router   http.Handler
}

type denyAll struct{}

func (denyAll) AllowOpen(context.Context, string) (*VelocityResult, error) {
	return &VelocityResult{Allowed: false}, nil
}

func newTestEnv(t *testing.T, opts ...HandlerOption) *testEnv {
	t.Helper()
	mem := export.NewMemorySink(32)
	reg := NewRegistry(testDeps(mem), time.Minute)
	t.Cleanup(reg.Close)

	tokens, err := NewTokens("test-secret", time.Minute)
	require.NoError(t, err)

	base := []HandlerOption{
		WithExports(mem),
		WithIcons(icons.NewFeatherReplacer(logging.Discard())),
		WithMetrics(metrics.NewCheckoutMetrics(prometheus.NewRegistry())),
	}
	h := NewHandler(reg, tokens, logging.Discard(), append(base, opts...)...)
	h.now = func() time.Time { return fixedNow }

	r := chi.NewRouter()
	r.Get("/", h.Page)
	r.Post("/checkout/advance", h.PageAdvance)
	r.Post("/checkout/confirm", h.PageConfirm)
	r.Get("/health", h.Health)
	r.Mount("/api", h.APIRoutes())

	return &testEnv{handler: h, registry: reg, tokens: tokens, exports: mem, router: r}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) open(t *testing.T) CreateSessionResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/sessions", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp CreateSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var st map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	return st
}

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/sessions", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, StepDetails, resp.State.Step)
	assert.Equal(t, "10:00", resp.State.Timer.Display)

	id, err := env.tokens.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.SessionID, id)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
}

func TestCreateSessionThrottled(t *testing.T) {
	env := newTestEnv(t, WithOpenLimiter(denyAll{}))
	rec := env.do(t, http.MethodPost, "/api/sessions", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 0, env.registry.Len())
}

func TestSessionRoutesRequireMatchingToken(t *testing.T) {
	env := newTestEnv(t)
	a := env.open(t)
	b := env.open(t)

	rec := env.do(t, http.MethodGet, "/api/sessions/"+a.SessionID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/sessions/"+a.SessionID, "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/sessions/"+a.SessionID, b.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/sessions/"+a.SessionID, a.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.registry.Remove(a.SessionID)
	rec = env.do(t, http.MethodGet, "/api/sessions/"+a.SessionID, a.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateFields(t *testing.T) {
	env := newTestEnv(t)
	s := env.open(t)
	path := "/api/sessions/" + s.SessionID + "/fields"

	value := " Priya"
	rec := env.do(t, http.MethodPatch, path, s.Token, FieldUpdateRequest{Field: FieldFirstName, Value: &value})
	require.Equal(t, http.StatusOK, rec.Code)
	form := decodeState(t, rec)["formData"].(map[string]any)
	assert.Equal(t, " Priya", form["firstName"])

	team := "My Team"
	rec = env.do(t, http.MethodPatch, path, s.Token, FieldUpdateRequest{EnrollingFor: &team})
	require.Equal(t, http.StatusOK, rec.Code)
	form = decodeState(t, rec)["formData"].(map[string]any)
	assert.Equal(t, "My Team", form["enrollingFor"])

	rec = env.do(t, http.MethodPatch, path, s.Token, FieldUpdateRequest{Field: "age", Value: &value})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := "Everyone"
	rec = env.do(t, http.MethodPatch, path, s.Token, FieldUpdateRequest{EnrollingFor: &bad})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPatch, path, s.Token, FieldUpdateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// a rejected enrollment leaves the field in the same request unwritten
	last := "Sharma"
	rec = env.do(t, http.MethodPatch, path, s.Token, FieldUpdateRequest{Field: FieldLastName, Value: &last, EnrollingFor: &bad})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/sessions/"+s.SessionID, s.Token, nil)
	form = decodeState(t, rec)["formData"].(map[string]any)
	assert.Equal(t, "", form["lastName"])
	assert.Equal(t, "My Team", form["enrollingFor"])
}

func TestSessionActivityRenewsToken(t *testing.T) {
	env := newTestEnv(t)
	clock := &fakeClock{now: time.Now()}
	env.tokens.now = clock.Now
	s := env.open(t)

	clock.Advance(45 * time.Second)
	rec := env.do(t, http.MethodGet, "/api/sessions/"+s.SessionID, s.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	renewed := rec.Header().Get(SessionTokenHeader)
	require.NotEmpty(t, renewed)
	assert.NotEqual(t, s.Token, renewed)
	assert.Equal(t, renewed, sessionCookie(t, rec).Value)

	// past the first token's expiry, inside the renewed one's
	clock.Advance(45 * time.Second)
	rec = env.do(t, http.MethodGet, "/api/sessions/"+s.SessionID, s.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/sessions/"+s.SessionID, renewed, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadsKeepSessionAlive(t *testing.T) {
	clock := &fakeClock{now: fixedNow}
	deps := testDeps(nil)
	deps.Clock = clock.Now
	reg := NewRegistry(deps, 15*time.Minute)
	t.Cleanup(reg.Close)
	tokens, err := NewTokens("test-secret", 15*time.Minute)
	require.NoError(t, err)

	h := NewHandler(reg, tokens, logging.Discard())
	r := chi.NewRouter()
	r.Mount("/api", h.APIRoutes())
	env := &testEnv{handler: h, registry: reg, tokens: tokens, router: r}

	s := env.open(t)
	clock.Advance(10 * time.Minute)
	rec := env.do(t, http.MethodGet, "/api/sessions/"+s.SessionID, s.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	clock.Advance(10 * time.Minute)
	assert.Equal(t, 0, reg.Sweep(clock.Now()))

	clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, reg.Sweep(clock.Now()))
}

func TestAdvanceValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	s := env.open(t)

	in := validInput()
	in.Phone = "123"
	rec := env.do(t, http.MethodPost, "/api/sessions/"+s.SessionID+"/advance", s.Token, in)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp ValidationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, FieldPhone, resp.Focus)
	assert.Equal(t, []FieldError{{FieldPhone, MsgPhoneInvalid}}, resp.Errors)

	sess, err := env.registry.Get(s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StepDetails, sess.Step())
}

func TestFullFlowOverAPI(t *testing.T) {
	env := newTestEnv(t)
	s := env.open(t)
	base := "/api/sessions/" + s.SessionID

	rec := env.do(t, http.MethodPost, base+"/confirm", s.Token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	in := validInput()
	in.EnrollingFor = "Someone Else"
	rec = env.do(t, http.MethodPost, base+"/advance", s.Token, in)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decodeState(t, rec)
	assert.Equal(t, "step2", st["step"])
	assert.Equal(t, map[string]any{"step1": false, "step2": true, "mainContainer": true, "successScreen": false}, st["views"])

	rec = env.do(t, http.MethodPost, base+"/advance", s.Token, in)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/visibility", s.Token, VisibilityRequest{Hidden: true})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/confirm", s.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var record PaymentRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "Priya", record.FirstName)
	assert.Equal(t, EnrollSomeoneElse, record.EnrollingFor)
	assert.Equal(t, 55751.81, record.Amount)
	assert.Equal(t, "INR", record.Currency)
	assert.True(t, strings.HasPrefix(record.TransactionID, "TXN_"))

	rec = env.do(t, http.MethodGet, base, s.Token, nil)
	st = decodeState(t, rec)
	assert.Equal(t, "success", st["step"])
	assert.Equal(t, true, st["timer"].(map[string]any)["stopped"])
	require.NotNil(t, st["payment"])

	rec = env.do(t, http.MethodPost, base+"/confirm", s.Token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/exports?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var exported struct {
		Events []export.Event `json:"events"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exported))
	require.Equal(t, 2, exported.Count)
	assert.Equal(t, export.KindFormData, exported.Events[0].Kind)
	assert.Equal(t, export.KindPayment, exported.Events[1].Kind)
}

func TestUnloadStopsTimer(t *testing.T) {
	env := newTestEnv(t)
	s := env.open(t)

	rec := env.do(t, http.MethodPost, "/api/sessions/"+s.SessionID+"/unload", s.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	sess, err := env.registry.Get(s.SessionID)
	require.NoError(t, err)
	assert.True(t, sess.Timer().State().Stopped)
}

func TestPricingEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/pricing", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Course    string            `json:"course"`
		Currency  string            `json:"currency"`
		Pricing   map[string]any    `json:"pricing"`
		Formatted map[string]string `json:"formatted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, Course, resp.Course)
	assert.Equal(t, "INR", resp.Currency)
	assert.Equal(t, 55751.81, resp.Pricing["total"])
	assert.Equal(t, "₹55,751.81", resp.Formatted["total"])
}

func TestFormatEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/format/currency?amount=1234567.5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"formatted":"₹12,34,567.50"`)

	rec = env.do(t, http.MethodGet, "/api/format/currency?amount=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/format/date?date=2026-03-05", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"date":"2026-03-05","formatted":"5/3/2026"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/format/date", "", nil)
	assert.JSONEq(t, `{"date":"2026-10-17","formatted":"17/10/2026"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/format/date?date=17/10/2026", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListExportsValidation(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/exports?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/exports", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"events":[],"count":0}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.open(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":1}`, rec.Body.String())
}
