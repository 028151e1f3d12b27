package checkout

import (
	"regexp"
	"strings"
	"unicode"
)

// whitespace matches what browsers treat as \s.
const whitespace = `\s\v\p{Zs}\x{2028}\x{2029}\x{feff}`

var (
	emailPattern = regexp.MustCompile(`^[^` + whitespace + `@]+@[^` + whitespace + `@]+\.[^` + whitespace + `@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-()]{10,}$`)
)

// isSpace reports whether r is whitespace to a browser's \s and trim(). Unlike
// unicode.IsSpace it excludes U+0085 and includes U+FEFF.
func isSpace(r rune) bool {
	return unicode.Is(unicode.Zs, r) || strings.ContainsRune("\t\n\v\f\r\u2028\u2029\ufeff", r)
}

// ValidEmail reports whether s looks like local@domain.tld.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// ValidPhone strips all whitespace and then requires ten or more digits,
// hyphens or parentheses, with an optional leading plus.
func ValidPhone(s string) bool {
	stripped := strings.Map(func(r rune) rune {
		if isSpace(r) {
			return -1
		}
		return r
	}, s)
	return phonePattern.MatchString(stripped)
}

// Validate runs the details-step guards against the trimmed input.
func Validate(in DetailsInput) error {
	in = in.Trimmed()
	verr := &ValidationError{}

	if in.FirstName == "" {
		verr.add(FieldFirstName, MsgFirstNameRequired)
	}
	if in.LastName == "" {
		verr.add(FieldLastName, MsgLastNameRequired)
	}
	switch {
	case in.Phone == "":
		verr.add(FieldPhone, MsgPhoneRequired)
	case !ValidPhone(in.Phone):
		verr.add(FieldPhone, MsgPhoneInvalid)
	}
	switch {
	case in.Email == "":
		verr.add(FieldEmail, MsgEmailRequired)
	case !ValidEmail(in.Email):
		verr.add(FieldEmail, MsgEmailInvalid)
	}

	if len(verr.Errors) > 0 {
		return verr
	}
	return nil
}
