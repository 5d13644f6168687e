package report

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncErrorFormatting(t *testing.T) {
	err := PartialBatch(StageFlush, 41347, "wsfull_object", errors.New("boom"))
	assert.Equal(t, "PARTIAL_BATCH [flush] container=41347 collection=wsfull_object: boom", err.Error())
}

func TestSyncErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("list: %w", Pagination(StageList, 2, cause))

	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsKind(err, KindPagination))
	assert.False(t, IsKind(err, KindTransport))
	assert.False(t, IsKind(cause, KindPagination))
}

func TestNotImplemented(t *testing.T) {
	err := NotImplemented("WORKSPACE_DELETE_STATE_CHANGE")
	assert.True(t, IsNotImplemented(err))
	assert.Contains(t, err.Error(), "WORKSPACE_DELETE_STATE_CHANGE")
}

func TestMalformed(t *testing.T) {
	err := Malformed(StageDispatch, 0, "missing %s", "wsid")
	assert.True(t, IsMalformed(err))
	assert.Equal(t, "missing wsid", err.Message)
}

func TestMessageTruncated(t *testing.T) {
	long := strings.Repeat("x", MaxMessageLen*2)
	err := Transport(StageDetails, 1, errors.New(long))
	assert.Equal(t, MaxMessageLen, len([]rune(err.Message)))
	assert.True(t, strings.HasSuffix(err.Message, "..."))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", Truncate("héllo", 10))
	assert.Equal(t, "h...", Truncate("héllo wörld", 4))
	assert.Equal(t, "hé", Truncate("héllo", 2))
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, Success, OutcomeOf(nil, nil))
	assert.Equal(t, Partial, OutcomeOf([]*SyncError{Transport(StageList, 1, errors.New("x"))}, nil))
	assert.Equal(t, Fatal, OutcomeOf(nil, errors.New("config")))
	assert.Equal(t, "partial", Partial.String())

	text, err := Fatal.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "fatal", string(text))
}
