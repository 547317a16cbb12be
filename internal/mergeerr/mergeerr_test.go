package mergeerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := MissingTrack("audio", "file:///tmp/a.mp4")

	assert.ErrorIs(t, err, ErrMissingTrack)
	assert.ErrorIs(t, err, &Error{Kind: KindMissingTrack, Track: "audio"})
	assert.ErrorIs(t, err, &Error{Kind: KindMissingTrack, Reference: "file:///tmp/a.mp4"})
	assert.NotErrorIs(t, err, &Error{Kind: KindMissingTrack, Track: "video"})
	assert.NotErrorIs(t, err, ErrExportFailed)
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := ContainerBuildFailed(fmt.Errorf("write mdat: %w", cause))

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrContainerBuildFailed)
	assert.Contains(t, err.Error(), "disk full")
}

func TestError_Messages(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"missing track", MissingTrack("video", "a.mp4"), "input a.mp4 is missing a video track"},
		{"cancelled", ExportCancelled(nil), "export was cancelled"},
		{"invalid input", InvalidInput("", errors.New("empty")), `invalid input reference "": empty`},
		{"unknown", &Error{Kind: KindUnknown}, "an unexpected error has occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil))

	classified := ExportFailed(errors.New("boom"))
	assert.Same(t, classified, Wrap(fmt.Errorf("context: %w", classified)))

	plain := errors.New("plain")
	wrapped := Wrap(plain)
	require.NotNil(t, wrapped)
	assert.Equal(t, KindUnknown, wrapped.Kind)
	assert.ErrorIs(t, wrapped, plain)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("x")))
	assert.Equal(t, KindInvalidOptions, KindOf(InvalidOptions(nil)))
}
