package cansim

import "errors"

var (
	ErrIllegalArgument  = errors.New("error in function arguments")
	ErrTxUnconfigured   = errors.New("transmit buffer was not configured properly")
	ErrTxSuppressed     = errors.New("transmission suppressed by fault injection")
	ErrFrameTooLong     = errors.New("frame payload exceeds transport capability")
	ErrChannelDisabled  = errors.New("channel is disabled")
	ErrUnknownChannel   = errors.New("channel does not exist")
	ErrInvalidState     = errors.New("command can't be processed in the current state")
	ErrConfig           = errors.New("inconsistent configuration")
	ErrUnknownVariable  = errors.New("blackboard variable does not exist")
	ErrUnsupportedIface = errors.New("unsupported interface")
)
