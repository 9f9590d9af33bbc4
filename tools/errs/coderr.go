package errs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// 错误码
const (
	CodeMalformedPayload = 1001
	CodeUnknownEvent     = 1002
	CodeLookupNotFound   = 2001
	CodeLookupTransport  = 2002
	CodeServerInternal   = 5000
)

var (
	ErrMalformedPayload = CodeError{Code: CodeMalformedPayload, Msg: "malformed payload"}
	ErrUnknownEvent     = CodeError{Code: CodeUnknownEvent, Msg: "unknown event"}
	ErrLookupNotFound   = CodeError{Code: CodeLookupNotFound, Msg: "conversation not found"}
	ErrLookupTransport  = CodeError{Code: CodeLookupTransport, Msg: "conversation lookup failed"}
	ErrServerInternal   = CodeError{Code: CodeServerInternal, Msg: "server internal error"}
)

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// Is matches any CodeError carrying the same code, so callers can test a
// wrapped error against the package-level values with errors.Is.
func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// WrapMsg returns a copy with msg and kv appended to Detail, with a stack.
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	c := *e
	if detail := toString(msg, kv); detail != "" {
		if c.Detail == "" {
			c.Detail = detail
		} else {
			c.Detail += ", " + detail
		}
	}
	return errors.WithStack(&c)
}

// WrapCause is WrapMsg with the cause's text as the message.
func (e *CodeError) WrapCause(cause error, kv ...any) error {
	if cause == nil {
		return e.WrapMsg("", kv...)
	}
	return e.WrapMsg(cause.Error(), kv...)
}

// Code extracts the CodeError code from err, or 0.
func Code(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, toString(msg, kv))
}

func New(msg string, kv ...any) error {
	return errors.New(toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(anyString(kv[i]))
		b.WriteString("=")
		if i+1 < len(kv) {
			b.WriteString(anyString(kv[i+1]))
		} else {
			b.WriteString("MISSING")
		}
	}
	return b.String()
}

func anyString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	case interface{ String() string }:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
