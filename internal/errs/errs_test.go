package errs

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindInvalidState, KindOf(InvalidState("server is not stopped")))

	wrapped := fmt.Errorf("start: %w", MissingArtifact("/srv/server.jar"))
	assert.Equal(t, KindMissingArtifact, KindOf(wrapped))
	assert.True(t, Has(wrapped, KindMissingArtifact))
	assert.False(t, Has(wrapped, KindIO))
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	e := IO("spawn failed", fs.ErrNotExist)
	assert.Equal(t, "spawn failed: file does not exist", e.Error())
	assert.ErrorIs(t, e, fs.ErrNotExist)
	assert.Equal(t, "jar not found: /x.jar", MissingArtifact("/x.jar").Error())
}

func TestErrorIsByKind(t *testing.T) {
	err := fmt.Errorf("wrap: %w", Timeout("restart timed out"))
	assert.ErrorIs(t, err, &Error{Kind: KindTimeout})
	assert.NotErrorIs(t, err, &Error{Kind: KindIO})
}
