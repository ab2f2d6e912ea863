package repository

import "errors"

var (
	// ErrStaleStatus means the record is no longer in the status the update expected.
	ErrStaleStatus = errors.New("record status changed concurrently")
	// ErrInsufficientCredits means a conditional debit found too small a balance.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrQueueLimit means the owner already has another record waiting in the queue.
	ErrQueueLimit = errors.New("queue limit reached")
	// ErrPaymentFailed means the payment was rejected and can no longer be completed.
	ErrPaymentFailed = errors.New("payment already failed")
)
