package validator

import (
	"fmt"
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vedran77/chatsync/internal/domain"
)

const maxMessageLength = 4000

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

// Error lists the messages in field order, so ValidationErrors can travel as
// an error and still be shown to the user as an advisory.
func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	msgs := make([]string, 0, len(fields))
	for _, f := range fields {
		msgs = append(msgs, v[f])
	}
	return strings.Join(msgs, "; ")
}

// Err returns v as an error, or nil when it holds nothing.
func (v ValidationErrors) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return v
}

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
var pushTokenRegex = regexp.MustCompile(`^(Exponent|Expo)PushToken\[[^\]]+\]$`)

func ValidateRegister(email, username, password string) ValidationErrors {
	errs := make(ValidationErrors)

	// Email
	email = strings.TrimSpace(email)
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email address")
	}

	validateUsername(username, errs)
	validatePassword(password, errs)

	return errs
}

func ValidateLogin(email, password string) ValidationErrors {
	errs := make(ValidationErrors)

	email = strings.TrimSpace(email)
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email address")
	}

	if password == "" {
		errs.Add("password", "Password is required")
	}

	return errs
}

func ValidateProfile(username string) ValidationErrors {
	errs := make(ValidationErrors)
	validateUsername(username, errs)
	return errs
}

func ValidatePushToken(token string) ValidationErrors {
	errs := make(ValidationErrors)
	if token == "" {
		errs.Add("token", "Push token is required")
	} else if !pushTokenRegex.MatchString(token) {
		errs.Add("token", "Invalid push token")
	}
	return errs
}

// ValidateDraft checks that a draft carries the payload its type needs.
func ValidateDraft(d domain.Draft) ValidationErrors {
	errs := make(ValidationErrors)

	switch d.Kind() {
	case domain.MessageText:
		validateBody(d.Text, errs)
	case domain.MessageImage:
		if strings.TrimSpace(d.ImageURL) == "" {
			errs.Add("image", "Image is required")
		}
	case domain.MessageAudio:
		if strings.TrimSpace(d.AudioURL) == "" {
			errs.Add("audio", "Recording is required")
		}
	case domain.MessageLocation:
		if d.Location == nil {
			errs.Add("location", "Location is required")
		} else if d.Location.Latitude < -90 || d.Location.Latitude > 90 ||
			d.Location.Longitude < -180 || d.Location.Longitude > 180 {
			errs.Add("location", "Location is out of range")
		}
	default:
		errs.Add("type", fmt.Sprintf("Unknown message type %q", d.Type))
	}

	return errs
}

func ValidateEdit(body string) ValidationErrors {
	errs := make(ValidationErrors)
	validateBody(body, errs)
	return errs
}

func validateBody(body string, errs ValidationErrors) {
	if strings.TrimSpace(body) == "" {
		errs.Add("text", "Message cannot be empty")
	} else if utf8.RuneCountInString(body) > maxMessageLength {
		errs.Add("text", "Message is too long")
	}
}

func validateUsername(username string, errs ValidationErrors) {
	username = strings.TrimSpace(username)
	if username == "" {
		errs.Add("username", "Username is required")
	} else if len(username) < 3 {
		errs.Add("username", "Username must be at least 3 characters")
	} else if len(username) > 50 {
		errs.Add("username", "Username is too long")
	} else if !usernameRegex.MatchString(username) {
		errs.Add("username", "Username can only contain letters, numbers, _, . and -")
	}
}

func validatePassword(password string, errs ValidationErrors) {
	if len(password) < 8 {
		errs.Add("password", "Password must be at least 8 characters")
		return
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	missing := []string{}
	if !hasUpper {
		missing = append(missing, "one uppercase letter")
	}
	if !hasLower {
		missing = append(missing, "one lowercase letter")
	}
	if !hasDigit {
		missing = append(missing, "one number")
	}

	if len(missing) > 0 {
		errs.Add("password", fmt.Sprintf("Password must contain at least %s", strings.Join(missing, ", ")))
	}
}
