package utils

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestConfigValidationErrors(t *testing.T) {
	err := NewConfigValidationFieldRequiredError("markers.0", "pattern")
	test.That(t, err.Error(), test.ShouldEqual, `error validating "markers.0": "pattern" is required`)

	base := errors.New("width must be positive")
	err = NewConfigValidationError("markers.1", base)
	test.That(t, err.Error(), test.ShouldEqual, `error validating "markers.1": width must be positive`)
	test.That(t, errors.Cause(err), test.ShouldEqual, base)

	err = NewUnexpectedTypeError("", 3)
	test.That(t, err.Error(), test.ShouldEqual, "expected string but got int")
}

func TestJoinPath(t *testing.T) {
	test.That(t, JoinPath("", "session"), test.ShouldEqual, "session")
	test.That(t, JoinPath("scenario", "session"), test.ShouldEqual, "scenario.session")
}
