package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures by how the caller should react.
type Kind string

const (
	// KindValidation is recoverable and leaves the state machine in place.
	KindValidation Kind = "validation"
	// KindTransientStore reports a failed store call; reads fall back to the local cache.
	KindTransientStore Kind = "transient_store"
	// KindPrecondition reports a command issued in a state that does not accept it.
	KindPrecondition Kind = "precondition"
	// KindPartialFailure reports an image step that failed after the idea was persisted.
	KindPartialFailure Kind = "partial_failure"
)

var (
	ErrTextLength           = errors.New("idea text must be between 5 and 200 characters")
	ErrQuotaExceeded        = errors.New("idea quota exceeded")
	ErrStorageCeiling       = errors.New("saved idea limit reached")
	ErrImageAlreadyAttached = errors.New("idea already has an image")
	ErrNotOwner             = errors.New("idea belongs to another identity")
	ErrNotPersisted         = errors.New("idea has not been persisted remotely")
	ErrCandidatePending     = errors.New("a candidate is already pending")
	ErrNoCandidate          = errors.New("no candidate pending")
	ErrNotSaved             = errors.New("no saved idea to acknowledge")
	ErrIdeaNotFound         = errors.New("idea not found")
	ErrGuestOnly            = errors.New("operation only available to guests")
	ErrAssetsUnavailable    = errors.New("asset host not configured")
	ErrStoreUnavailable     = errors.New("authoritative store unavailable")
)

// Error is returned by every engine command that fails.
type Error struct {
	kind Kind
	code string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the failure class.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code returns the stable "engine.<operation>.<reason>" code.
func (e *Error) Code() string {
	return e.code
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.kind
	}
	return ""
}

const (
	opStart          = "engine.start"
	opGenerate       = "engine.generate"
	opRegenerate     = "engine.regenerate"
	opSave           = "engine.save"
	opDiscard        = "engine.discard"
	opAcknowledge    = "engine.acknowledge"
	opViewOwn        = "engine.view_own"
	opViewCommunity  = "engine.view_community"
	opDelete         = "engine.delete"
	opAttachImage    = "engine.attach_image"
	opClearLocal     = "engine.clear_local"
	opIdentityChange = "engine.identity_change"
)

func newError(kind Kind, operation, reason string, cause error) error {
	return &Error{kind: kind, code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// joinCause keeps both the engine sentinel and the collaborator error matchable.
func joinCause(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}
