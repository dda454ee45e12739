// Package response renders the ops API envelope:
//
//	{"success": true, "data": ..., "meta": {...}}
//	{"success": false, "error": {"code": "...", "message": "...", "fields": [...]}}
package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/matchdispatch/pkg/errors"
	appValidator "github.com/charlesng35/matchdispatch/pkg/validator"
)

type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
}

// ErrorInfo is the client-facing part of an AppError. Fields lists the
// request fields that failed validation, when that caused the error.
type ErrorInfo struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// Meta describes either a page of a counted listing (audit log) or an
// offset window over an uncounted one (a member's notifications).
type Meta struct {
	Page       int `json:"page,omitempty"`
	PerPage    int `json:"per_page,omitempty"`
	Total      int `json:"total,omitempty"`
	TotalPages int `json:"total_pages,omitempty"`
	Limit      int `json:"limit,omitempty"`
	Offset     int `json:"offset,omitempty"`
}

// PageMeta builds page metadata; TotalPages is derived from total and perPage.
func PageMeta(page, perPage int, total int64) *Meta {
	meta := &Meta{Page: max(page, 1), PerPage: perPage, Total: int(total)}
	if perPage > 0 {
		meta.TotalPages = int((total + int64(perPage) - 1) / int64(perPage))
	}
	return meta
}

// WindowMeta describes count items returned from offset with the given limit.
func WindowMeta(limit, offset, count int) *Meta {
	return &Meta{Limit: limit, Offset: offset, Total: count}
}

func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, Response{Success: true, Data: data})
}

// Paged writes a success response carrying listing metadata.
func Paged(c *gin.Context, data any, meta *Meta) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data, Meta: meta})
}

// Error writes the AppError found in err's chain, or a 500 for anything else.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}
	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	info := &ErrorInfo{Code: appErr.Code, Message: appErr.Message}
	var failures appValidator.ValidationErrors
	if errors.As(err, &failures) {
		for _, failure := range failures {
			info.Fields = append(info.Fields, FieldError{Field: failure.Field, Rule: failure.Tag, Param: failure.Param})
		}
	}
	c.JSON(status, Response{Success: false, Error: info})
}

// Abort writes the error response and stops the handler chain.
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}
