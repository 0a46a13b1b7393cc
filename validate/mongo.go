package validate

import (
	"reflect"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"

	"github.com/percona/percona-shadowwrite-mongodb/topo"
)

// ClientOptionKeys lists the target option keys understood by [topo.ApplyClientOptions].
func ClientOptionKeys() []string {
	return topo.ClientOptionKeys()
}

// validateMongoURI checks that a string is a parsable MongoDB connection string.
func validateMongoURI(fl validator.FieldLevel) bool {
	s := getStringValue(fl.Field())
	if s == "" {
		return true // "required" handles emptiness
	}

	_, err := connstring.ParseAndValidate(s)

	return err == nil
}

// validateClientOptions checks that every key of an options map is supported
// and that a redirect database, if any, is a usable name.
func validateClientOptions(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.Map {
		return false
	}

	for _, key := range field.MapKeys() {
		if key.Kind() != reflect.String {
			return false
		}

		if _, ok := topo.CanonicalOptionKey(key.String()); !ok {
			return false
		}
	}

	m, ok := field.Interface().(map[string]any)
	if !ok {
		return true
	}

	_, err := topo.TargetDatabase(m)

	return err == nil
}
