package ideas

import (
	"fmt"
)

// ServiceError carries a stable "<operation>.<reason>" code alongside the cause.
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
	opStoreNew       = "ideas.store.new"
	opInsert         = "ideas.insert"
	opQueryByOwner   = "ideas.query_by_owner"
	opQueryRecent    = "ideas.query_recent"
	opGet            = "ideas.get"
	opDeleteByID     = "ideas.delete_by_id"
	opUpdateImageURL = "ideas.update_image_url"
	opListIDs        = "ideas.list_ids"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
