package response

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Resp is the envelope of every JSON response.
type Resp struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

// New never leaves data null.
func New(code int, msg string, data any) Resp {
	if data == nil {
		data = struct{}{}
	}
	return Resp{Code: code, Msg: msg, Data: data}
}

func OK(data any) Resp {
	return New(CodeOK, message(CodeOK), data)
}

// Error builds a failure envelope; an empty msg uses the status text.
func Error(code int, msg string) Resp {
	if msg == "" {
		msg = message(code)
	}
	return New(code, msg, nil)
}

// Abort stops the chain with status. JSON routes under /api get the
// envelope, pages get plain text.
func Abort(c *gin.Context, status int, msg string) {
	if msg == "" {
		msg = message(status)
	}
	if IsAPI(c.Request) {
		c.AbortWithStatusJSON(status, Error(status, msg))
		return
	}
	c.Abort()
	c.String(status, msg)
}

func IsAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}
