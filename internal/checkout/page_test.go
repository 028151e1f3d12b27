package checkout

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/course-checkout/internal/http/middleware"
)

func (e *testEnv) page(t *testing.T, method, path string, cookie *http.Cookie, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			return c
		}
	}
	t.Fatalf("no session cookie set")
	return nil
}

func detailsForm() url.Values {
	return url.Values{
		FieldFirstName: {"Priya"},
		FieldLastName:  {"Sharma"},
		FieldPhone:     {"+91 98765 43210"},
		FieldEmail:     {"priya@example.in"},
		FieldReferral:  {""},
		"enrollFor":    {"Myself"},
	}
}

func TestPage_OpensSessionAndRendersStepOne(t *testing.T) {
	env := newTestEnv(t)
	rec := env.page(t, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(t, rec)
	assert.Equal(t, 1, env.registry.Len())

	body := rec.Body.String()
	assert.Contains(t, body, `id="step1" class="card"`)
	assert.Contains(t, body, `id="step2" class="card hidden"`)
	assert.Contains(t, body, `id="successScreen" class="card hidden"`)
	assert.Contains(t, body, `<span id="timer" class="timer">10:00</span>`)
	assert.Contains(t, body, `id="firstName" name="firstName" type="text" value="" autofocus`)
	assert.Contains(t, body, `value="Myself" checked`)
	assert.Contains(t, body, "₹55,751.81")
	assert.Contains(t, body, "feather feather-clock")
	assert.NotContains(t, body, "data-feather")

	// reload keeps the same session
	rec = env.page(t, http.MethodGet, "/", cookie, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, 1, env.registry.Len())
}

func TestPageAdvance_InlineErrors(t *testing.T) {
	env := newTestEnv(t)
	cookie := sessionCookie(t, env.page(t, http.MethodGet, "/", nil, nil))

	form := detailsForm()
	form.Set(FieldFirstName, "  Priya ")
	form.Set(FieldEmail, "priya@example")
	rec := env.page(t, http.MethodPost, "/checkout/advance", cookie, form)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, MsgEmailInvalid)
	assert.Contains(t, body, `id="email" name="email" type="email" value="priya@example" autofocus`)
	assert.Contains(t, body, `value="  Priya "`)
	assert.NotContains(t, body, `id="firstName" name="firstName" type="text" value="  Priya " autofocus`)
	assert.Contains(t, body, `id="step1" class="card"`)
}

func TestPage_FullFlow(t *testing.T) {
	env := newTestEnv(t)
	cookie := sessionCookie(t, env.page(t, http.MethodGet, "/", nil, nil))

	rec := env.page(t, http.MethodPost, "/checkout/confirm", cookie, url.Values{})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.page(t, http.MethodPost, "/checkout/advance", cookie, detailsForm())
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	rec = env.page(t, http.MethodGet, "/", cookie, nil)
	body := rec.Body.String()
	assert.Contains(t, body, `id="step1" class="card hidden"`)
	assert.Contains(t, body, `id="step2" class="card"`)

	rec = env.page(t, http.MethodPost, "/checkout/confirm", cookie, url.Values{})
	require.Equal(t, http.StatusOK, rec.Code)
	body = rec.Body.String()
	assert.Contains(t, body, `id="mainContainer" class="hidden"`)
	assert.Contains(t, body, `id="successScreen" class="card"`)
	assert.Contains(t, body, "Thank you, Priya.")
	assert.Contains(t, body, "TXN_1760691600000_abc123xyz")
	assert.Contains(t, body, "17/10/2026")
	assert.Contains(t, body, "feather feather-check-circle")
}

func TestPage_ExpiredTimerStyle(t *testing.T) {
	env := newTestEnv(t)
	cookie := sessionCookie(t, env.page(t, http.MethodGet, "/", nil, nil))

	for _, s := range env.registry.sessions {
		for i := 0; i < 600; i++ {
			s.Timer().Tick()
		}
	}
	rec := env.page(t, http.MethodGet, "/", cookie, nil)
	assert.Contains(t, rec.Body.String(), `<span id="timer" class="timer timer--expired">00:00</span>`)
}

func TestPageAdvance_WithoutSessionRedirects(t *testing.T) {
	env := newTestEnv(t)
	rec := env.page(t, http.MethodPost, "/checkout/advance", nil, detailsForm())
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, 0, env.registry.Len())
}

func pageSessionFor(t *testing.T, env *testEnv, cookie *http.Cookie) *Session {
	t.Helper()
	id, err := env.tokens.Parse(cookie.Value)
	require.NoError(t, err)
	s, err := env.registry.Get(id)
	require.NoError(t, err)
	return s
}

func TestPageAdvance_KeepsTimerRunning(t *testing.T) {
	env := newTestEnv(t)
	cookie := sessionCookie(t, env.page(t, http.MethodGet, "/", nil, nil))

	rec := env.page(t, http.MethodPost, "/checkout/advance", cookie, detailsForm())
	require.Equal(t, http.StatusSeeOther, rec.Code)

	s := pageSessionFor(t, env, cookie)
	assert.Equal(t, StepPayment, s.Step())
	assert.False(t, s.Timer().State().Stopped)

	body := env.page(t, http.MethodGet, "/", cookie, nil).Body.String()
	assert.Contains(t, body, "if (!submitting)")
}

func TestPage_ReloadAfterUnloadStartsOver(t *testing.T) {
	env := newTestEnv(t)
	cookie := sessionCookie(t, env.page(t, http.MethodGet, "/", nil, nil))
	old := pageSessionFor(t, env, cookie)

	rec := env.do(t, http.MethodPost, "/api/sessions/"+old.ID()+"/unload", cookie.Value, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, old.Abandoned())

	rec = env.page(t, http.MethodPost, "/checkout/advance", cookie, detailsForm())
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, StepDetails, old.Step())
	_, err := env.registry.Get(old.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	rec = env.page(t, http.MethodGet, "/", cookie, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fresh := pageSessionFor(t, env, sessionCookie(t, rec))
	assert.NotEqual(t, old.ID(), fresh.ID())
	assert.False(t, fresh.Timer().State().Stopped)
	assert.Equal(t, 1, env.registry.Len())
}

func TestPage_CompletedSessionSurvivesUnload(t *testing.T) {
	env := newTestEnv(t)
	cookie := sessionCookie(t, env.page(t, http.MethodGet, "/", nil, nil))
	env.page(t, http.MethodPost, "/checkout/advance", cookie, detailsForm())
	env.page(t, http.MethodPost, "/checkout/confirm", cookie, url.Values{})

	s := pageSessionFor(t, env, cookie)
	s.Unload()
	assert.False(t, s.Abandoned())

	rec := env.page(t, http.MethodGet, "/", cookie, nil)
	assert.Contains(t, rec.Body.String(), `id="successScreen" class="card"`)
}

func TestPage_ActivityRenewsCookie(t *testing.T) {
	env := newTestEnv(t)
	clock := &fakeClock{now: time.Now()}
	env.tokens.now = clock.Now
	first := sessionCookie(t, env.page(t, http.MethodGet, "/", nil, nil))

	clock.Advance(45 * time.Second)
	renewed := sessionCookie(t, env.page(t, http.MethodGet, "/", first, nil))
	assert.NotEqual(t, first.Value, renewed.Value)

	clock.Advance(45 * time.Second)
	rec := env.page(t, http.MethodPost, "/checkout/advance", renewed, detailsForm())
	require.Equal(t, http.StatusSeeOther, rec.Code)

	assert.Equal(t, 1, env.registry.Len())
	assert.Equal(t, StepPayment, pageSessionFor(t, env, renewed).Step())
	_, err := env.tokens.Parse(first.Value)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
