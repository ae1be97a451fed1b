package errors

import (
	"encoding/json"
	"fmt"
)

type AppError struct {
	Code    int    // Stable error code sent to clients
	Message string // User-facing message
	Err     error  // Underlying error (optional)
}

const (
	ErrInvalidToken     = 1001
	ErrAuctionNotFound  = 1002
	ErrAuctionNotActive = 1003
	ErrNotOwner         = 1004
	ErrNotWinner        = 1005 // withdraw by wrong party or before acceptance
	ErrIncorrectPayment = 1006
	ErrTransferDenied   = 1007 // asset registry rejected the custody movement
	ErrOfferNotFound    = 1008 // accepted candidate matches no recorded offer
	ErrNoFunds          = 1009

	ErrBadMessageFormat   = 1101
	ErrUnknownMessageType = 1102
	ErrWebSocketUpgrade   = 1103

	ErrInternalServer = 500
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON renders the error as a websocket reply payload.
func (e *AppError) ToJSON() string {
	payload := struct {
		Type    string `json:"type"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{Type: "error", Code: e.Code, Message: e.Message}

	data, err := json.Marshal(payload)
	if err != nil {
		return `{"type":"error","code":500,"message":"internal server error"}`
	}
	return string(data)
}

// Wrapping utility
func Wrap(err error, message string) *AppError {
	return &AppError{Message: message, Err: err}
}

// WrapCode wraps an underlying error while keeping a stable code.
func WrapCode(code int, err error, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Error creation utility
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Code extracts the stable code from an error, 0 if it carries none.
// Codeless wrappers are skipped so a Wrap around a coded error keeps
// its code.
func Code(err error) int {
	for err != nil {
		if e, ok := err.(*AppError); ok && e.Code != 0 {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}

// Is reports whether err carries the given stable code.
func Is(err error, code int) bool {
	return Code(err) == code
}
