package server

import (
	"net/http"

	"booking-payments/internal/domain"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
	Kind   string      `json:"kind,omitempty"`
}

func success(c *gin.Context, code int, data interface{}) {
	c.JSON(code, Response{Status: "success", Data: data})
}

func failure(c *gin.Context, code int, kind domain.Kind, msg string) {
	c.AbortWithStatusJSON(code, Response{Status: "error", Error: msg, Kind: kind.String()})
}

func (s *Server) fail(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	code := statusFor(kind)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	msg := err.Error()
	if kind == domain.Internal || kind == domain.Other {
		msg = "internal error"
	}
	failure(c, code, kind, msg)
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.Invalid, domain.InvalidAmount, domain.InvalidMethod:
		return http.StatusBadRequest
	case domain.NotFound:
		return http.StatusNotFound
	case domain.InvalidState, domain.Conflict:
		return http.StatusConflict
	case domain.RefundFailed:
		return http.StatusUnprocessableEntity
	case domain.GatewayError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
