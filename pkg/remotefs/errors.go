package remotefs

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

var (
	ErrUnknownHost    = errors.New("unknown host")
	ErrUnreachable    = errors.New("cannot reach host")
	ErrBadCredentials = errors.New("incorrect credentials")
	ErrConnection     = errors.New("connection failed")
)

// ConnectionKind classifies why a session could not be established.
type ConnectionKind int

const (
	ConnectionUnknown ConnectionKind = iota
	ConnectionUnknownHost
	ConnectionUnreachable
	ConnectionBadCredentials
)

func (k ConnectionKind) String() string {
	switch k {
	case ConnectionUnknownHost:
		return "UNKNOWN_HOST"
	case ConnectionUnreachable:
		return "CANNOT_REACH"
	case ConnectionBadCredentials:
		return "INCORRECT_CREDENTIALS"
	default:
		return "UNKNOWN"
	}
}

func (k ConnectionKind) sentinel() error {
	switch k {
	case ConnectionUnknownHost:
		return ErrUnknownHost
	case ConnectionUnreachable:
		return ErrUnreachable
	case ConnectionBadCredentials:
		return ErrBadCredentials
	default:
		return ErrConnection
	}
}

// ConnectionError is returned by session factories when connecting or
// authenticating fails. errors.Is matches it against the sentinel of its kind.
type ConnectionError struct {
	Kind     ConnectionKind
	Protocol string
	Host     string
	Port     int
	User     string
	Err      error
}

func (e *ConnectionError) Error() string {
	addr := net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	msg := fmt.Sprintf("%s %s@%s: %s", e.Protocol, e.User, addr, e.Kind.sentinel())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// OpError records a failed operation on a live session.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// ErrInvalidSession is returned when an operation is attempted on a session
// that was already destroyed.
var ErrInvalidSession = errors.New("session is invalid")
