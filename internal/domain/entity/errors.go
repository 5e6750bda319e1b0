package entity

import "errors"

var (
	// Conversation errors
	ErrInvalidConversationID = errors.New("invalid conversation id")
	ErrInvalidTimestamps     = errors.New("updatedAt precedes createdAt")
	ErrInvalidSource         = errors.New("invalid source tag")

	// Message errors
	ErrInvalidMessageID   = errors.New("invalid message id")
	ErrInvalidMessageRole = errors.New("invalid message role")
	ErrMissingTimestamp   = errors.New("missing timestamp")

	// Attachment errors
	ErrInvalidAttachment = errors.New("invalid attachment")

	// Image job errors
	ErrInvalidJobStatus    = errors.New("invalid job status")
	ErrJobStatusRegression = errors.New("job status cannot move backwards")
	ErrJobTerminal         = errors.New("job already in a terminal state")

	// Provider / model errors
	ErrInvalidProviderID  = errors.New("invalid provider id")
	ErrInvalidModelID     = errors.New("invalid model id")
	ErrInvalidModelBucket = errors.New("invalid model bucket")
)
