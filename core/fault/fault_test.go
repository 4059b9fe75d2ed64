package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindNotFound, KindOf(New(KindNotFound, "exam not found")))

	wrapped := fmt.Errorf("lock: %w", New(KindAlreadyLocked, "already locked"))
	assert.Equal(t, KindAlreadyLocked, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindAlreadyLocked))
	assert.False(t, Is(wrapped, KindForbidden))
}

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := Wrap(KindLedgerUnavailable, "ledger unavailable", errors.New("dial tcp: refused"))
	assert.True(t, errors.Is(err, New(KindLedgerUnavailable, "")))
	assert.False(t, errors.Is(err, New(KindIndeterminate, "")))
	assert.Contains(t, err.Error(), "refused")
}

func TestPublicMessageHidesInternalCause(t *testing.T) {
	assert.Equal(t, "internal error", PublicMessage(errors.New("leveldb: corrupted")))
	assert.Equal(t, "internal error", PublicMessage(Wrap(KindInternal, "store read failed", errors.New("io"))))
	assert.Equal(t, "exam not found", PublicMessage(New(KindNotFound, "exam not found")))
}
