package file

import (
	"errors"
	"strings"
)

var (
	ErrNotFound = errors.New("file not found")
	// ErrConflict is returned when optimistic metadata updates keep losing.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrSweeping is returned when the expiry of a record already claimed
	// by the sweeper is changed.
	ErrSweeping = errors.New("file is being removed by the expiry sweep")
)

// RejectionError is returned by UploadFile when validation refuses the
// upload. Its message only carries user-facing reasons.
type RejectionError struct {
	Result *ValidationResult
}

func (e *RejectionError) Error() string {
	return "upload rejected: " + strings.Join(e.Messages(), "; ")
}

func (e *RejectionError) Messages() []string {
	msgs := make([]string, 0, len(e.Result.Rejections))
	for _, r := range e.Result.Rejections {
		msgs = append(msgs, r.Message)
	}
	return msgs
}

func (e *RejectionError) Reasons() []RejectionReason {
	return e.Result.Reasons()
}

// IsSecurityViolation reports whether any rejection was a security event.
func (e *RejectionError) IsSecurityViolation() bool {
	for _, r := range e.Result.Rejections {
		if r.Reason.IsSecurity() {
			return true
		}
	}
	return false
}
