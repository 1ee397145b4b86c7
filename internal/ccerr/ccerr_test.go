package ccerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	base := NotFoundf("session %s not found", "s1")
	wrapped := errors.Join(errors.New("context"), base)

	assert.Equal(t, NotFound, KindOf(wrapped))
}

func TestKindOfDefaultsToInternalForPlainErrors(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("anything")))
}

func TestInvalidStatefCarriesHint(t *testing.T) {
	err := InvalidStatef("session is Idle, nothing to interrupt", "session %s is %s", "B", "idle")
	assert.Equal(t, InvalidState, err.Kind)
	assert.Contains(t, err.Error(), "nothing to interrupt")
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New(LauncherFailure, cause, "")
	assert.ErrorIs(t, err, cause)
}
