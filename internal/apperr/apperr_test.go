package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("analyze: %w", QuotaExceeded(0))
	assert.Equal(t, KindQuotaExceeded, KindOf(err))
	assert.Equal(t, http.StatusTooManyRequests, Status(KindOf(err)))
	assert.Contains(t, Message(err), "0 remaining")
}

func TestKindOfForeignError(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal error", Message(err))
	assert.Equal(t, http.StatusInternalServerError, Status(KindOf(err)))
}

func TestStatusTable(t *testing.T) {
	cases := map[Kind]int{
		KindUnauthenticated: http.StatusUnauthorized,
		KindValidation:      http.StatusBadRequest,
		KindNotFound:        http.StatusNotFound,
		KindStorage:         http.StatusInternalServerError,
		KindAI:              http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, Status(kind), kind)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("s3 down")
	err := Wrap(KindStorage, "failed to store photo", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to store photo", Message(err))
}
