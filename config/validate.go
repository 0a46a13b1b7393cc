package config

import (
	"github.com/percona/percona-shadowwrite-mongodb/errors"
	"github.com/percona/percona-shadowwrite-mongodb/sel"
	"github.com/percona/percona-shadowwrite-mongodb/validate"
)

// Validate validates the Config for required fields and value ranges.
func Validate(cfg *Config) error {
	port := cfg.Port
	if port == 0 {
		port = DefaultServerPort
	}

	if port <= 1024 || port > 65535 {
		return errors.New("port value is outside the supported range [1024 - 65535]")
	}

	targets := cfg.SecondaryTargets()
	if len(targets) == 0 {
		return errors.New("no secondary targets")
	}

	err := ValidateTargets(targets)
	if err != nil {
		return err
	}

	if cfg.Primary != "" {
		err = validate.Struct(Target{URI: cfg.Primary, Enabled: true})
		if err != nil {
			return errors.Wrap(err, "primary")
		}

		for _, t := range targets {
			if t.URI == cfg.Primary {
				return errors.New("primary URI and a secondary URI are identical")
			}
		}
	}

	switch {
	case cfg.ConnectTimeout < 0:
		return errors.New("connect-timeout must not be negative")
	case cfg.Dispatch.Timeout < 0:
		return errors.New("dispatch-timeout must not be negative")
	case cfg.Dispatch.QueueSize < 0 || cfg.Dispatch.QueueSize > MaxDispatchQueueSize:
		return errors.Errorf("dispatch-queue-size must be within [0 - %d]", MaxDispatchQueueSize)
	case cfg.Dispatch.MaxRetries < 0:
		return errors.New("dispatch-max-retries must not be negative")
	}

	err = validate.Struct(cfg.Dispatch)
	if err != nil {
		return err //nolint:wrapcheck
	}

	err = sel.ValidateNamespaces(cfg.Filter.IncludeNamespaces)
	if err != nil {
		return errors.Wrap(err, "include-namespaces")
	}

	err = sel.ValidateNamespaces(cfg.Filter.ExcludeNamespaces)
	if err != nil {
		return errors.Wrap(err, "exclude-namespaces")
	}

	return nil
}

// ValidateTargets checks a non-empty target list with at least one enabled target.
// Every target is validated, including disabled ones.
func ValidateTargets(targets []Target) error {
	if len(targets) == 0 {
		return errors.New("empty target list")
	}

	enabled := 0

	for i := range targets {
		err := validate.Struct(targets[i])
		if err != nil {
			return errors.Wrapf(err, "target #%d", i)
		}

		if targets[i].Enabled {
			enabled++
		}
	}

	if enabled == 0 {
		return errors.New("no enabled target")
	}

	return nil
}
