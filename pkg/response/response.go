package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/mbeoliero/ecommunity/pkg/errcode"
)

// Response represents a standard API response
type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

// Success sends a success response
func Success(ctx context.Context, c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: 0,
		Msg:  "success",
		Data: data,
	})
}

// Error sends an error response. Wrapped business errors keep their code and message;
// errors that carry a payload (e.g. attachment rejections) are returned as data.
func Error(ctx context.Context, c *app.RequestContext, err error) {
	resp := Response{
		Code: errcode.ErrInternalServer.Code,
		Msg:  err.Error(),
	}

	var e *errcode.Error
	if errors.As(err, &e) {
		resp.Code = e.Code
		if _, direct := err.(*errcode.Error); direct {
			resp.Msg = e.Msg
		}
	}

	var withData interface{ Data() interface{} }
	if errors.As(err, &withData) {
		resp.Data = withData.Data()
	}

	c.JSON(http.StatusOK, resp)
}

// ErrorWithCode sends an error response with specific error code
func ErrorWithCode(ctx context.Context, c *app.RequestContext, e *errcode.Error) {
	c.JSON(http.StatusOK, Response{
		Code: e.Code,
		Msg:  e.Msg,
	})
}

// Unauthorized sends a 401 unauthorized response
func Unauthorized(ctx context.Context, c *app.RequestContext, msg string) {
	if msg == "" {
		msg = "unauthorized"
	}
	c.JSON(http.StatusUnauthorized, Response{
		Code: errcode.ErrUnauthorized.Code,
		Msg:  msg,
	})
}
