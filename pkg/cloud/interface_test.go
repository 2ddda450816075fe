package cloud_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"shotty/pkg/cloud"
)

func TestProviderError(t *testing.T) {
	cause := errors.New("boom")
	err := &cloud.ProviderError{
		Op:         "create-snapshot",
		ResourceID: "vol-1",
		Code:       "IncorrectState",
		Message:    "volume is busy",
		Err:        cause,
	}

	assert.Equal(t, "create-snapshot vol-1: IncorrectState: volume is busy", err.Error())
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", err), cause)

	var perr *cloud.ProviderError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &perr))
	assert.Equal(t, "vol-1", perr.ResourceID)
}

func TestProviderError_NoCode(t *testing.T) {
	err := &cloud.ProviderError{Op: "stop", ResourceID: "i-1", Message: "denied"}
	assert.Equal(t, "stop i-1: denied", err.Error())
	assert.Nil(t, errors.Unwrap(err))
}
