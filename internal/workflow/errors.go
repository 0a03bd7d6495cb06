package workflow

import "errors"

var (
	// ErrNotAuthorized is returned when the actor is not eligible for the action.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrRequestClosed is returned for any action on a terminal request.
	ErrRequestClosed = errors.New("request is no longer pending")

	// ErrAlreadySigned is returned when the actor already stamped a tier in this cycle.
	ErrAlreadySigned = errors.New("approver already signed this request")

	// ErrRemarksRequired is returned when a return carries no remarks.
	ErrRemarksRequired = errors.New("remarks are required to return a request")
)
