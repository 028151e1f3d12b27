package checkout

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/wolfman30/course-checkout/internal/countdown"
	"github.com/wolfman30/course-checkout/internal/format"
)

// Course is the product sold by this checkout.
const Course = "AWS Certified Solutions Architect - Associate Training"

// PaymentMethod is the only method offered by the simulated payment step.
const PaymentMethod = "UPI"

// Enrollment says who the learner is enrolling.
type Enrollment string

const (
	EnrollMyself      Enrollment = "Myself"
	EnrollSomeoneElse Enrollment = "Someone Else"
	EnrollMyTeam      Enrollment = "My Team"
)

// Enrollments lists the selectable options in display order.
var Enrollments = []Enrollment{EnrollMyself, EnrollSomeoneElse, EnrollMyTeam}

// ParseEnrollment maps a radio value onto an Enrollment.
func ParseEnrollment(s string) (Enrollment, error) {
	for _, e := range Enrollments {
		if string(e) == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEnrollment, s)
}

// Field names double as the ids of the inputs on the page.
const (
	FieldFirstName = "firstName"
	FieldLastName  = "lastName"
	FieldPhone     = "phone"
	FieldEmail     = "email"
	FieldReferral  = "referral"
)

// FormData mirrors the details form.
type FormData struct {
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Phone        string     `json:"phone"`
	Email        string     `json:"email"`
	Referral     string     `json:"referral"`
	EnrollingFor Enrollment `json:"enrollingFor"`
}

// NewFormData returns the initial form: empty fields, enrolling for Myself.
func NewFormData() FormData {
	return FormData{EnrollingFor: EnrollMyself}
}

func (f *FormData) set(field, value string) error {
	switch field {
	case FieldFirstName:
		f.FirstName = value
	case FieldLastName:
		f.LastName = value
	case FieldPhone:
		f.Phone = value
	case FieldEmail:
		f.Email = value
	case FieldReferral:
		f.Referral = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// DetailsInput is what the advance action reads from the details step.
type DetailsInput struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Referral     string `json:"referral"`
	EnrollingFor string `json:"enrollingFor,omitempty"`
}

// Trimmed returns a copy with surrounding whitespace removed from the text fields.
func (in DetailsInput) Trimmed() DetailsInput {
	return DetailsInput{
		FirstName:    strings.TrimFunc(in.FirstName, isSpace),
		LastName:     strings.TrimFunc(in.LastName, isSpace),
		Phone:        strings.TrimFunc(in.Phone, isSpace),
		Email:        strings.TrimFunc(in.Email, isSpace),
		Referral:     strings.TrimFunc(in.Referral, isSpace),
		EnrollingFor: in.EnrollingFor,
	}
}

// Step is a position in the checkout flow.
type Step int

const (
	StepDetails Step = iota + 1
	StepPayment
	StepComplete
)

func (s Step) String() string {
	switch s {
	case StepDetails:
		return "step1"
	case StepPayment:
		return "step2"
	case StepComplete:
		return "success"
	default:
		return "unknown"
	}
}

func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Step) UnmarshalText(text []byte) error {
	for _, candidate := range []Step{StepDetails, StepPayment, StepComplete} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("checkout: unknown step %q", text)
}

// ViewState says which page containers are visible.
type ViewState struct {
	Step1         bool `json:"step1"`
	Step2         bool `json:"step2"`
	MainContainer bool `json:"mainContainer"`
	SuccessScreen bool `json:"successScreen"`
}

// ViewFor derives container visibility from the step.
func ViewFor(s Step) ViewState {
	switch s {
	case StepPayment:
		return ViewState{Step2: true, MainContainer: true}
	case StepComplete:
		return ViewState{SuccessScreen: true}
	default:
		return ViewState{Step1: true, MainContainer: true}
	}
}

// Pricing holds the order amounts in paise.
type Pricing struct {
	Subtotal           int64
	Discount           int64
	SGST               int64
	CGST               int64
	Total              int64
	DiscountPercentage int
	TaxRate            int
}

// PricingSnapshot is fixed for the course and never recomputed from the form.
var PricingSnapshot = Pricing{
	Subtotal:           5249700,
	Discount:           524970,
	SGST:               425226,
	CGST:               425226,
	Total:              5575181,
	DiscountPercentage: 10,
	TaxRate:            18,
}

type pricingJSON struct {
	Subtotal           float64 `json:"subtotal"`
	Discount           float64 `json:"discount"`
	SGST               float64 `json:"sgst"`
	CGST               float64 `json:"cgst"`
	Total              float64 `json:"total"`
	DiscountPercentage int     `json:"discountPercentage"`
	TaxRate            int     `json:"taxRate"`
}

// MarshalJSON renders amounts in rupees.
func (p Pricing) MarshalJSON() ([]byte, error) {
	return json.Marshal(pricingJSON{
		Subtotal:           format.Minor(p.Subtotal),
		Discount:           format.Minor(p.Discount),
		SGST:               format.Minor(p.SGST),
		CGST:               format.Minor(p.CGST),
		Total:              format.Minor(p.Total),
		DiscountPercentage: p.DiscountPercentage,
		TaxRate:            p.TaxRate,
	})
}

func (p *Pricing) UnmarshalJSON(data []byte) error {
	var raw pricingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Pricing{
		Subtotal:           toPaise(raw.Subtotal),
		Discount:           toPaise(raw.Discount),
		SGST:               toPaise(raw.SGST),
		CGST:               toPaise(raw.CGST),
		Total:              toPaise(raw.Total),
		DiscountPercentage: raw.DiscountPercentage,
		TaxRate:            raw.TaxRate,
	}
	return nil
}

func toPaise(rupees float64) int64 {
	return int64(math.Round(rupees * 100))
}

// Formatted returns each amount rendered with format.Currency, keyed like the JSON.
func (p Pricing) Formatted() map[string]string {
	return map[string]string{
		"subtotal": format.Currency(format.Minor(p.Subtotal)),
		"discount": format.Currency(format.Minor(p.Discount)),
		"sgst":     format.Currency(format.Minor(p.SGST)),
		"cgst":     format.Currency(format.Minor(p.CGST)),
		"total":    format.Currency(format.Minor(p.Total)),
	}
}

// PaymentRecord is the outcome of a simulated payment.
type PaymentRecord struct {
	FormData
	Amount        float64 `json:"amount"`
	AmountMinor   int64   `json:"amountMinor"`
	AmountInWords string  `json:"amountInWords"`
	Currency      string  `json:"currency"`
	Course        string  `json:"course"`
	PaymentMethod string  `json:"paymentMethod"`
	Timestamp     string  `json:"timestamp"`
	TransactionID string  `json:"transactionId"`
}

// State is a snapshot of a session for rendering and the API.
type State struct {
	SessionID string          `json:"session_id"`
	Step      Step            `json:"step"`
	Views     ViewState       `json:"views"`
	Form      FormData        `json:"formData"`
	Pricing   Pricing         `json:"pricing"`
	Timer     countdown.State `json:"timer"`
	Payment   *PaymentRecord  `json:"payment,omitempty"`
}
