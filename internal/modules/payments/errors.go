package payments

import "errors"

var (
	ErrIntentNotFound   = errors.New("payment intent not found")
	ErrChargeNotFound   = errors.New("charge not found")
	ErrTerminalState    = errors.New("intent is in a terminal state")
	ErrInvalidInput     = errors.New("invalid payment input")
	ErrNotCapturable    = errors.New("intent not capturable")
	ErrNotConfirmable   = errors.New("intent not confirmable")
	ErrRefundExceeds    = errors.New("refund exceeds refundable balance")
	ErrChargeNotSettled = errors.New("charge not refundable")
)
