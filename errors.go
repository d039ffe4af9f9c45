package locksmith

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Inspection failure classes. Every fatal error returned by the oracle
// matches exactly one of these with errors.Is.
var (
	// ErrSchemaLoad indicates the baseline schema could not be applied.
	ErrSchemaLoad = errors.New("schema load failed")
	// ErrIntrospection indicates the catalog could not be read.
	ErrIntrospection = errors.New("catalog introspection failed")
	// ErrStatement indicates the inspected statement itself failed. It is never fatal.
	ErrStatement = errors.New("statement failed")
	// ErrMonitoringTimedOut indicates lock sampling stopped before the statement finished.
	ErrMonitoringTimedOut = errors.New("lock monitoring timed out")
	// ErrExecutionTimedOut indicates the statement was cancelled after exceeding the inspection timeout.
	ErrExecutionTimedOut = errors.New("statement execution timed out")
	// ErrConnection indicates a database session was lost or could not be opened.
	ErrConnection = errors.New("database connection failed")
	// ErrAborted indicates the caller cancelled the inspection.
	ErrAborted = errors.New("inspection aborted")
)

// Data model errors
var (
	ErrUnknownObjectKind    = errors.New("unknown object kind")
	ErrInvalidObject        = errors.New("invalid catalog object")
	ErrUnknownLockMode      = errors.New("unknown lock mode")
	ErrUnknownLockPolicy    = errors.New("unknown lock policy")
	ErrInconsistentSnapshot = errors.New("inconsistent snapshot")

	ErrUnknownStatementErrorClass = errors.New("unknown statement error class")
)

// ErrorKind classifies a fatal inspection failure.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindSchemaLoad
	ErrorKindIntrospection
	ErrorKindExecutionTimedOut
	ErrorKindConnection
	ErrorKindAborted
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindSchemaLoad:
		return "SchemaLoadError"
	case ErrorKindIntrospection:
		return "IntrospectionError"
	case ErrorKindExecutionTimedOut:
		return "ExecutionTimedOut"
	case ErrorKindConnection:
		return "ConnectionError"
	case ErrorKindAborted:
		return "Aborted"
	default:
		return "UnknownError"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case ErrorKindSchemaLoad:
		return ErrSchemaLoad
	case ErrorKindIntrospection:
		return ErrIntrospection
	case ErrorKindExecutionTimedOut:
		return ErrExecutionTimedOut
	case ErrorKindConnection:
		return ErrConnection
	case ErrorKindAborted:
		return ErrAborted
	default:
		return nil
	}
}

// Error is a classified fatal inspection failure.
type Error struct {
	kind ErrorKind
	op   string
	err  error
}

// NewError wraps err as a failure of the given kind during op.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{kind: kind, op: op, err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "inspection failure"
	}

	msg := e.kind.String()
	if sentinel := e.kind.sentinel(); sentinel != nil {
		msg = sentinel.Error()
	}

	if e.op != "" {
		msg += " (" + e.op + ")"
	}

	if e.err != nil {
		msg += ": " + e.err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}

	sentinel := e.kind.sentinel()

	return sentinel != nil && target == sentinel
}

func (e *Error) Kind() ErrorKind {
	if e == nil {
		return ErrorKindUnknown
	}

	return e.kind
}

// Op names the oracle step that failed.
func (e *Error) Op() string {
	if e == nil {
		return ""
	}

	return e.op
}

// KindOf returns the classification of err, or ErrorKindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind()
	}

	return ErrorKindUnknown
}

// StatementErrorClass is a coarse classification of statement failures.
type StatementErrorClass string

const (
	StatementErrorSyntax            StatementErrorClass = "syntax"
	StatementErrorUndefinedObject   StatementErrorClass = "undefined_object"
	StatementErrorDuplicateObject   StatementErrorClass = "duplicate_object"
	StatementErrorConstraint        StatementErrorClass = "constraint_violation"
	StatementErrorDependentObjects  StatementErrorClass = "dependent_objects"
	StatementErrorLockNotAvailable  StatementErrorClass = "lock_not_available"
	StatementErrorDeadlock          StatementErrorClass = "deadlock"
	StatementErrorTransactionBlock  StatementErrorClass = "transaction_block"
	StatementErrorInsufficientPrivs StatementErrorClass = "insufficient_privilege"
	StatementErrorOther             StatementErrorClass = "other"
)

// StatementErrorClasses lists every class.
func StatementErrorClasses() []StatementErrorClass {
	return []StatementErrorClass{
		StatementErrorSyntax,
		StatementErrorUndefinedObject,
		StatementErrorDuplicateObject,
		StatementErrorConstraint,
		StatementErrorDependentObjects,
		StatementErrorLockNotAvailable,
		StatementErrorDeadlock,
		StatementErrorTransactionBlock,
		StatementErrorInsufficientPrivs,
		StatementErrorOther,
	}
}

// ParseStatementErrorClass validates a class name such as "duplicate_object".
func ParseStatementErrorClass(s string) (StatementErrorClass, error) {
	for _, c := range StatementErrorClasses() {
		if string(c) == s {
			return c, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownStatementErrorClass, s)
}

// StatementError describes a failure of the inspected statement.
type StatementError struct {
	Class    StatementErrorClass `json:"class" yaml:"class"`
	SQLState string              `json:"sqlstate,omitempty" yaml:"sqlstate,omitempty"`
	Message  string              `json:"message" yaml:"message"`
	Detail   string              `json:"detail,omitempty" yaml:"detail,omitempty"`
	Hint     string              `json:"hint,omitempty" yaml:"hint,omitempty"`
	Position int32               `json:"position,omitempty" yaml:"position,omitempty"`

	err error
}

// NewStatementError builds a StatementError from a driver error.
func NewStatementError(err error) *StatementError {
	se := &StatementError{Class: StatementErrorOther, Message: err.Error(), err: err}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		se.SQLState = pgErr.Code
		se.Message = pgErr.Message
		se.Detail = pgErr.Detail
		se.Hint = pgErr.Hint
		se.Position = pgErr.Position
		se.Class = classifySQLState(pgErr.Code)
	}

	return se
}

func (e *StatementError) Error() string {
	var b strings.Builder

	b.WriteString(ErrStatement.Error())
	b.WriteString(": ")
	b.WriteString(e.Message)

	if e.SQLState != "" {
		fmt.Fprintf(&b, " (SQLSTATE %s)", e.SQLState)
	}

	return b.String()
}

func (e *StatementError) Unwrap() error { return e.err }

func (e *StatementError) Is(target error) bool { return target == ErrStatement }

// classifySQLState maps SQLSTATE codes to classes.
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
func classifySQLState(code string) StatementErrorClass {
	switch code {
	case "42601": // syntax_error
		return StatementErrorSyntax
	case "42P01", "42703", "42704", "42883": // undefined_table, undefined_column, undefined_object, undefined_function
		return StatementErrorUndefinedObject
	case "42P07", "42701", "42710": // duplicate_table, duplicate_column, duplicate_object
		return StatementErrorDuplicateObject
	case "2BP01": // dependent_objects_still_exist
		return StatementErrorDependentObjects
	case "55P03": // lock_not_available
		return StatementErrorLockNotAvailable
	case "40P01": // deadlock_detected
		return StatementErrorDeadlock
	case "25001": // active_sql_transaction
		return StatementErrorTransactionBlock
	case "42501": // insufficient_privilege
		return StatementErrorInsufficientPrivs
	}

	// Class 23: Integrity Constraint Violation
	if strings.HasPrefix(code, "23") {
		return StatementErrorConstraint
	}

	return StatementErrorOther
}

// IsConnectionError reports whether err means the session itself is unusable,
// as opposed to a failure of the SQL it was running.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: Connection Exception, 57P01..57P03: server shutting down
		return strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "57P01" || pgErr.Code == "57P02" || pgErr.Code == "57P03"
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	// Nothing reached the server, e.g. the session is already closed.
	if pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}
