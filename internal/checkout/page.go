package checkout

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/wolfman30/course-checkout/internal/countdown"
	"github.com/wolfman30/course-checkout/internal/format"
	"github.com/wolfman30/course-checkout/internal/http/middleware"
)

//go:embed templates/checkout.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/checkout.html"))

type pageField struct {
	ID    string
	Label string
	Type  string
	Value string
	Error string
	Focus bool
}

type pageEnrollment struct {
	Value   Enrollment
	Checked bool
}

type pageData struct {
	SessionID   string
	Course      string
	Views       ViewState
	Timer       countdown.State
	Pricing     Pricing
	Formatted   map[string]string
	Fields      []pageField
	Enrollments []pageEnrollment
	Payment     *PaymentRecord
	PaidAmount  string
	PaidOn      string
}

var formFields = []struct{ id, label, typ string }{
	{FieldFirstName, "First name", "text"},
	{FieldLastName, "Last name", "text"},
	{FieldPhone, "Phone number", "tel"},
	{FieldEmail, "Email address", "email"},
	{FieldReferral, "Referral code (optional)", "text"},
}

// newPageData builds the view model. values overrides the stored form (used
// when re-rendering a rejected submission) and verr adds inline errors.
func newPageData(st State, values *DetailsInput, verr *ValidationError) pageData {
	data := pageData{
		SessionID: st.SessionID,
		Course:    Course,
		Views:     st.Views,
		Timer:     st.Timer,
		Pricing:   st.Pricing,
		Formatted: st.Pricing.Formatted(),
		Payment:   st.Payment,
	}

	current := DetailsInput{
		FirstName:    st.Form.FirstName,
		LastName:     st.Form.LastName,
		Phone:        st.Form.Phone,
		Email:        st.Form.Email,
		Referral:     st.Form.Referral,
		EnrollingFor: string(st.Form.EnrollingFor),
	}
	if values != nil {
		current = *values
		if current.EnrollingFor == "" {
			current.EnrollingFor = string(st.Form.EnrollingFor)
		}
	}

	focus := FieldFirstName
	if verr != nil {
		focus = verr.Focus()
	}
	for _, f := range formFields {
		data.Fields = append(data.Fields, pageField{
			ID:    f.id,
			Label: f.label,
			Type:  f.typ,
			Value: fieldValue(current, f.id),
			Error: verr.For(f.id),
			Focus: st.Step == StepDetails && f.id == focus,
		})
	}
	for _, e := range Enrollments {
		data.Enrollments = append(data.Enrollments, pageEnrollment{
			Value:   e,
			Checked: string(e) == current.EnrollingFor,
		})
	}

	if st.Payment != nil {
		data.PaidAmount = format.Currency(st.Payment.Amount)
		if ts, err := time.Parse(time.RFC3339, st.Payment.Timestamp); err == nil {
			data.PaidOn = format.Date(ts)
		}
	}
	return data
}

func fieldValue(in DetailsInput, id string) string {
	switch id {
	case FieldFirstName:
		return in.FirstName
	case FieldLastName:
		return in.LastName
	case FieldPhone:
		return in.Phone
	case FieldEmail:
		return in.Email
	case FieldReferral:
		return in.Referral
	}
	return ""
}

// Page handles GET /. It reuses the session named by the cookie or opens a new
// one. A session whose page was unloaded mid-checkout is replaced, as a reload
// starts the checkout over.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	s, ok := h.pageSession(w, r)
	if !ok {
		var (
			token  string
			status int
			err    error
		)
		s, token, status, err = h.openSession(r.Context(), middleware.ClientIP(r))
		if err != nil {
			http.Error(w, err.Error(), status)
			return
		}
		h.setSessionCookie(w, token)
	}
	h.render(w, http.StatusOK, newPageData(s.Snapshot(), nil, nil))
}

// PageAdvance handles POST /checkout/advance from the details form.
func (h *Handler) PageAdvance(w http.ResponseWriter, r *http.Request) {
	defer h.observe("page_advance", time.Now())

	s, ok := h.pageSession(w, r)
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	in := DetailsInput{
		FirstName:    r.PostForm.Get(FieldFirstName),
		LastName:     r.PostForm.Get(FieldLastName),
		Phone:        r.PostForm.Get(FieldPhone),
		Email:        r.PostForm.Get(FieldEmail),
		Referral:     r.PostForm.Get(FieldReferral),
		EnrollingFor: r.PostForm.Get("enrollFor"),
	}

	err := s.Advance(r.Context(), in)
	var verr *ValidationError
	switch {
	case err == nil, errors.Is(err, ErrStepOutOfOrder):
		http.Redirect(w, r, "/", http.StatusSeeOther)
	case errors.As(err, &verr):
		h.render(w, http.StatusUnprocessableEntity, newPageData(s.Snapshot(), &in, verr))
	case errors.Is(err, ErrUnknownEnrollment):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("advance failed", "error", err, "session_id", s.ID())
		http.Error(w, "failed to advance", http.StatusInternalServerError)
	}
}

// PageConfirm handles POST /checkout/confirm and renders the success view.
func (h *Handler) PageConfirm(w http.ResponseWriter, r *http.Request) {
	defer h.observe("page_confirm", time.Now())

	s, ok := h.pageSession(w, r)
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if _, err := s.ConfirmAwaitingPayment(r.Context()); err != nil {
		h.render(w, http.StatusConflict, newPageData(s.Snapshot(), nil, nil))
		return
	}
	h.render(w, http.StatusOK, newPageData(s.Snapshot(), nil, nil))
}

// pageSession resolves the cookie session and renews it. Abandoned sessions
// are removed and reported as missing.
func (h *Handler) pageSession(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	c, err := r.Cookie(middleware.SessionCookie)
	if err != nil || c.Value == "" {
		return nil, false
	}
	id, err := h.tokens.Parse(c.Value)
	if err != nil {
		return nil, false
	}
	s, err := h.registry.Get(id)
	if err != nil {
		return nil, false
	}
	if s.Abandoned() {
		h.registry.Remove(id)
		h.logger.Debug("replacing unloaded checkout", "session_id", id)
		return nil, false
	}
	h.renewSession(w, s)
	return s, true
}

// render executes the page and swaps icon placeholders for inline SVG.
func (h *Handler) render(w http.ResponseWriter, status int, data pageData) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		h.logger.Error("failed to render checkout page", "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(h.icons.Replace(buf.Bytes()))
}
