package services

import "errors"

// Errors returned by administrative actions. Handlers map them to HTTP status codes.
var (
	ErrClusterNotFound          = errors.New("cluster not found")
	ErrClusterAlreadyInactive   = errors.New("cluster is already inactive")
	ErrAlertNotFound            = errors.New("pattern alert not found")
	ErrAlertAlreadyAcknowledged = errors.New("pattern alert already acknowledged")
	ErrSpamNotFound             = errors.New("spam detection not found")
	ErrSpamAlreadyReviewed      = errors.New("spam detection already reviewed")
	ErrInvalidReviewStatus      = errors.New("review status must be confirmed or dismissed")
	ErrIncidentNotFound         = errors.New("incident ticket not found")
	ErrInvalidIncidentStatus    = errors.New("incident status must be open, investigating or resolved")
)
