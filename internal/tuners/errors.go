package tuners

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced tuner or comment does not exist.
	ErrNotFound = errors.New("tuners: not found")
	// ErrUnauthorized indicates an operation requires a resolved identity.
	ErrUnauthorized = errors.New("tuners: authentication required")
	// ErrForbidden indicates the identity lacks edit or delete rights.
	ErrForbidden = errors.New("tuners: permission denied")
	// ErrValidation indicates malformed input; nothing was written.
	ErrValidation = errors.New("tuners: invalid input")
	// ErrIndexUpdateFailed indicates the atomic record and url index commit failed; the record is unchanged.
	ErrIndexUpdateFailed = errors.New("tuners: url index update failed")
	// ErrUpstreamIdentity indicates the identity provider failed or returned malformed data.
	ErrUpstreamIdentity = errors.New("tuners: identity provider error")
	// ErrConflict indicates concurrent writers kept invalidating a compare-and-swap commit.
	ErrConflict = errors.New("tuners: concurrent modification")

	errMissingStore      = errors.New("key-value store is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceError carries a stable code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "tuners.service.new"
	opGet           = "tuners.get"
	opScan          = "tuners.scan"
	opCreate        = "tuners.create"
	opUpdate        = "tuners.update"
	opDelete        = "tuners.delete"
	opFindByURL     = "tuners.find_by_url"
	opUserLikes     = "tuners.user_likes"
	opSetUserLikes  = "tuners.set_user_likes"
	opToggleLike    = "tuners.toggle_like"
	opAddComment    = "tuners.add_comment"
	opDeleteComment = "tuners.delete_comment"
	opSearch        = "tuners.search"
	opSearchPage    = "tuners.search_page"
	opCount         = "tuners.count"
	opValidateURL   = "tuners.validate_url"
	opResolveFilter = "tuners.resolve_filter"
	opSaveTuner     = "tuners.save"
	opRemoveTuner   = "tuners.remove"
	opRemoveComment = "tuners.remove_comment"
	opPostComment   = "tuners.post_comment"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func validationError(operation, reason, message string) error {
	return newServiceError(operation, reason, &validationDetail{message: message})
}

// validationDetail carries the user facing message of a validation failure.
type validationDetail struct {
	message string
}

func (d *validationDetail) Error() string {
	return fmt.Sprintf("%v: %s", ErrValidation, d.message)
}

func (d *validationDetail) Is(target error) bool {
	return target == ErrValidation
}

// UserMessage returns the message of a validation error suitable for display,
// or an empty string when err is not a validation error.
func UserMessage(err error) string {
	var detail *validationDetail
	if errors.As(err, &detail) {
		return detail.message
	}
	return ""
}
