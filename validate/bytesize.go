package validate

import (
	"reflect"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
)

// parseSize parses a human byte size. Empty and "0" mean unset.
func parseSize(field reflect.Value) (uint64, bool, error) {
	s := getStringValue(field)
	if s == "" || s == "0" {
		return 0, false, nil
	}

	n, err := humanize.ParseBytes(s)

	return n, true, err //nolint:wrapcheck
}

// validateByteSize accepts an unset value or a parsable byte size ("16MiB", "100MB").
func validateByteSize(fl validator.FieldLevel) bool {
	_, _, err := parseSize(fl.Field())

	return err == nil
}

// validateByteSizeMax caps a byte size. Tag usage: bytesizemax=1GiB.
func validateByteSizeMax(fl validator.FieldLevel) bool {
	n, set, err := parseSize(fl.Field())
	if err != nil {
		return false
	}

	if !set {
		return true
	}

	limit, err := humanize.ParseBytes(fl.Param())

	return err == nil && n <= limit
}

func getStringValue(field reflect.Value) string {
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return ""
		}

		field = field.Elem()
	}

	if field.Kind() != reflect.String {
		return ""
	}

	return field.String()
}
