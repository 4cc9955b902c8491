package protocol

import "errors"

var (
	ErrPayloadTooLarge       = errors.New("protocol: payload too large")
	ErrSendCanceled          = errors.New("protocol: send canceled")
	ErrConnectionInterrupted = errors.New("protocol: connection interrupted")
	ErrTransportWrite        = errors.New("protocol: transport write failed")
	ErrConnection            = errors.New("protocol: connection error")
	ErrEncoding              = errors.New("protocol: encoding failed")
	ErrDecoding              = errors.New("protocol: decoding failed")
	ErrTruncated             = errors.New("protocol: truncated data")
	ErrInvalidUTF8           = errors.New("protocol: invalid utf-8 title")
)
