package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfWalksWrappedChain(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := fmt.Errorf("cast: %w", Wrap(CodeDeviceCommunicationError, cause, "play on %s failed", "tv"))

	assert.Equal(t, CodeDeviceCommunicationError, CodeOf(err))
	assert.True(t, IsCode(err, CodeDeviceCommunicationError))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "play on tv failed")
}

func TestCodeOfPlainErrorIsInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("x")))
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.False(t, IsCode(nil, CodeInternal))
}

func TestWithDetail(t *testing.T) {
	err := NewError(CodeStreamNotFound, "stream %q not found", "rtp-1").WithDetail("stream_id", "rtp-1")
	assert.Equal(t, "rtp-1", err.Details["stream_id"])
	assert.Equal(t, `STREAM_NOT_FOUND: stream "rtp-1" not found`, err.Error())
}
