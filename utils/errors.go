// Package utils contains small helpers shared by every armarker package.
package utils

import (
	"fmt"

	"github.com/pkg/errors"
)

// NewConfigValidationFieldRequiredError is used when a required config field is missing.
func NewConfigValidationFieldRequiredError(path, field string) error {
	return errors.Errorf("error validating %q: %q is required", path, field)
}

// NewConfigValidationError wraps a config validation failure with the path of the offending config.
func NewConfigValidationError(path string, err error) error {
	return errors.Wrapf(err, "error validating %q", path)
}

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}

// JoinPath joins a config path and a field the way validation errors report them.
func JoinPath(path, field string) string {
	if path == "" {
		return field
	}
	return fmt.Sprintf("%s.%s", path, field)
}
