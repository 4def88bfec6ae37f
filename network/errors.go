package network

import (
	"errors"
	"fmt"
	"sync"

	cbornode "github.com/ipfs/go-ipld-cbor"
)

var (
	ErrUnknownParty    = errors.New("unknown party")
	ErrUnknownProtocol = errors.New("unknown protocol")
	ErrSessionClosed   = errors.New("session closed by counterparty")
)

// CodedError is an error that can be sent over a session and rebuilt on the
// other side. Its exported fields must be cbor encodable.
type CodedError interface {
	error
	Code() string
}

var (
	errorTypesLock sync.RWMutex
	errorTypes     = make(map[string]func() CodedError)
)

// RegisterError makes errors with code decodable when they arrive over a
// session. newErr must return a fresh pointer the detail can be decoded into.
func RegisterError(code string, newErr func() CodedError) {
	errorTypesLock.Lock()
	defer errorTypesLock.Unlock()
	errorTypes[code] = newErr
}

// SessionError is how a counterparty's failure surfaces locally. Unwrap
// yields the counterparty's typed error when its code is registered.
type SessionError struct {
	Code    string
	Message string
	cause   error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("counterparty failed (%s): %s", e.Code, e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.cause
}

const genericErrorCode = "error"

func encodeError(err error) (code string, detail []byte) {
	var coded CodedError
	if !errors.As(err, &coded) {
		return genericErrorCode, nil
	}
	detail, encodeErr := cbornode.DumpObject(coded)
	if encodeErr != nil {
		logger.Warningf("error encoding %s detail: %v", coded.Code(), encodeErr)
		return coded.Code(), nil
	}
	return coded.Code(), detail
}

func decodeError(code, message string, detail []byte) *SessionError {
	se := &SessionError{Code: code, Message: message}
	if code == unknownProtocolCode {
		se.cause = ErrUnknownProtocol
		return se
	}
	errorTypesLock.RLock()
	newErr, ok := errorTypes[code]
	errorTypesLock.RUnlock()
	if !ok || detail == nil {
		return se
	}
	typed := newErr()
	if err := cbornode.DecodeInto(detail, typed); err != nil {
		logger.Warningf("error decoding %s detail: %v", code, err)
		return se
	}
	se.cause = typed
	return se
}
