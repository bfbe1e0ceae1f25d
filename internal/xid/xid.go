package xid

import (
	"github.com/google/uuid"
)

// New returns a prefixed identifier whose uuid part sorts by creation time.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return prefix + "-" + uuid.NewString()
	}
	return prefix + "-" + id.String()
}
