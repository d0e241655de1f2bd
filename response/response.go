// Package response provides a uniform JSON envelope and SSE helpers for
// the HTTP surface, in the teacher's code/msg/data shape.
package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	internalsse "github.com/forbearing/tol/internal/sse"
	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess Code = 0
	CodeFailure Code = -1
)

const (
	CodeInvalidParam Code = 1000 + iota
	CodeBadRequest
	CodeInvalidToken
	CodeNeedLogin
	CodeUnauthorized
	CodeNetworkTimeout
	CodeContextTimeout
	CodeTooManyRequests
	CodeNotFound
	CodeForbidden
	CodeAlreadyExist
	CodeConflict
	CodeLocked
)

type codeValue struct {
	Status int
	Msg    string
}

var defaultCodeValueMap = map[Code]codeValue{
	CodeSuccess: {http.StatusOK, "success"},
	CodeFailure: {http.StatusBadRequest, "failure"},

	CodeInvalidParam:    {http.StatusBadRequest, "invalid parameters provided in the request"},
	CodeBadRequest:      {http.StatusBadRequest, "malformed or illegal request"},
	CodeInvalidToken:    {http.StatusUnauthorized, "invalid or expired authentication token"},
	CodeNeedLogin:       {http.StatusUnauthorized, "authentication required"},
	CodeUnauthorized:    {http.StatusUnauthorized, "unauthorized access to the requested resource"},
	CodeNetworkTimeout:  {http.StatusGatewayTimeout, "network operation timed out"},
	CodeContextTimeout:  {http.StatusGatewayTimeout, "request context timed out"},
	CodeTooManyRequests: {http.StatusTooManyRequests, "too many requests, please try again later"},
	CodeNotFound:        {http.StatusNotFound, "requested resource not found"},
	CodeForbidden:       {http.StatusForbidden, "forbidden: inadequate privileges for the requested operation"},
	CodeAlreadyExist:    {http.StatusConflict, "resource already exists"},
	CodeConflict:        {http.StatusConflict, "commit conflicted with a concurrent change"},
	CodeLocked:          {http.StatusLocked, "object is locked by another commit"},
}

var customCodeValueMap = make(map[Code]codeValue)

type Code int32

type CodeInstance struct {
	code   Code
	status *int
	msg    *string
}

func (r Code) Msg() string {
	if val, ok := customCodeValueMap[r]; ok {
		return val.Msg
	}
	if val, ok := defaultCodeValueMap[r]; ok {
		return val.Msg
	}
	return defaultCodeValueMap[CodeFailure].Msg
}

func (r Code) WithStatus(status int) CodeInstance { return CodeInstance{code: r, status: &status} }
func (r Code) WithErr(err error) CodeInstance {
	msg := err.Error()
	return CodeInstance{code: r, msg: &msg}
}
func (r Code) WithMsg(msg string) CodeInstance { return CodeInstance{code: r, msg: &msg} }

func (r Code) Status() int {
	if val, ok := customCodeValueMap[r]; ok {
		return val.Status
	}
	if val, ok := defaultCodeValueMap[r]; ok {
		return val.Status
	}
	return http.StatusBadRequest
}

func (r Code) Code() int { return int(r) }

func (ci CodeInstance) Msg() string {
	if ci.msg != nil {
		return *ci.msg
	}
	return ci.code.Msg()
}

func (ci CodeInstance) Status() int {
	if ci.status != nil {
		return *ci.status
	}
	return ci.code.Status()
}

func (ci CodeInstance) Code() int { return ci.code.Code() }

func (ci CodeInstance) WithStatus(status int) CodeInstance {
	return CodeInstance{code: ci.code, status: &status, msg: ci.msg}
}

func (ci CodeInstance) WithErr(err error) CodeInstance {
	msg := err.Error()
	return CodeInstance{code: ci.code, status: ci.status, msg: &msg}
}

func (ci CodeInstance) WithMsg(msg string) CodeInstance {
	return CodeInstance{code: ci.code, status: ci.status, msg: &msg}
}

// Responder unifies Code and CodeInstance so ResponseJSON accepts either.
type Responder interface {
	Msg() string
	Status() int
	Code() int
}

var (
	_ Responder = Code(0)
	_ Responder = CodeInstance{}
)

// NewCode registers a custom status/message pair for code, for extensions
// that add their own business codes at init time.
func NewCode(code Code, status int, msg string) Code {
	customCodeValueMap[code] = codeValue{Status: status, Msg: msg}
	return code
}

func ResponseJSON(c *gin.Context, responder Responder, data ...any) {
	body := gin.H{
		"code":       responder.Code(),
		"msg":        responder.Msg(),
		"request_id": c.GetString("request_id"),
	}
	if len(data) > 0 {
		body["data"] = data[0]
	} else {
		body["data"] = nil
	}
	c.JSON(responder.Status(), body)
}

func ResponseTEXT(c *gin.Context, responder Responder, data ...any) {
	if len(data) > 0 {
		c.String(responder.Status(), stringAny(data[0]))
	} else {
		c.String(responder.Status(), "")
	}
}

func ResponseDATA(c *gin.Context, data []byte, headers ...map[string]string) {
	if len(headers) > 0 && headers[0] != nil {
		for k, v := range headers[0] {
			c.Header(k, v)
		}
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func stringAny(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case []string:
		return strings.Join(val, ",")
	case [][]byte:
		return string(bytes.Join(val, []byte(",")))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// ResponseSSE sends a single Server-Sent Event — used for link subscription
// delivery over the gin response writer.
func ResponseSSE(c *gin.Context, event internalsse.Event) error {
	return internalsse.SendSSE(c.Writer, event)
}

// StreamSSE starts a Server-Sent Events stream for link subscriptions; fn is
// called repeatedly until it returns false or the client disconnects.
func StreamSSE(c *gin.Context, fn func(io.Writer) bool) {
	internalsse.StreamSSE(c.Writer, c.Request.Context(), c.Stream, fn)
}

// StreamSSEWithInterval streams heartbeats/snapshots at a fixed interval.
func StreamSSEWithInterval(c *gin.Context, interval time.Duration, fn func(io.Writer) bool) {
	internalsse.StreamSSEWithInterval(c.Writer, c.Request.Context(), c.Stream, interval, fn)
}
