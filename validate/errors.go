package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError is one rejected config field. Field is the config key path, e.g. "options"
// or "dispatch.max-write-size" for nested structs.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors lists every rejected field of one struct, in field order.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i := range e {
		msgs[i] = e[i].Error()
	}

	return strings.Join(msgs, "; ")
}

// Fields returns the rejected config keys.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, len(e))
	for i := range e {
		fields[i] = e[i].Field
	}

	return fields
}

// TranslateErrors converts validator.ValidationErrors to [ValidationErrors].
// Other errors are returned unchanged.
func TranslateErrors(err error) error {
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors) //nolint:errorlint
	if !ok {
		return err
	}

	errs := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, ValidationError{
			Field:   fieldPath(fe),
			Message: message(fe),
		})
	}

	return errs
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}

	return path
}

//nolint:gochecknoglobals
var messages = map[string]string{
	"required":    "is required",
	"gte":         "must be at least %s",
	"min":         "must be at least %s",
	"lte":         "must be at most %s",
	"max":         "must be at most %s",
	"bytesize":    "must be a valid byte size (e.g., '100MB', '1GiB')",
	"bytesizemax": "must be at most %s",
	"mongouri":    "must be a valid MongoDB connection string",
	"dive":        "is invalid",
}

func message(fe validator.FieldError) string {
	if fe.Tag() == "clientoptions" {
		return "contains unsupported client options or an invalid database (allowed: " +
			strings.Join(ClientOptionKeys(), ", ") + ")"
	}

	msg, ok := messages[fe.Tag()]
	if !ok {
		return "failed " + fe.Tag() + " validation"
	}

	if strings.Contains(msg, "%s") {
		return fmt.Sprintf(msg, fe.Param())
	}

	return msg
}
