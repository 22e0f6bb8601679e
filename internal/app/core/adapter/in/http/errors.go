package http

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
)

// statusOf 錯誤種類對應 HTTP 狀態碼與對外訊息，儲存層細節不外露
func statusOf(err error) (int, string) {
	var fiberErr *fiber.Error
	switch {
	case errors.Is(err, domain.ErrClientNotFound):
		return http.StatusNotFound, "client not found"
	case errors.Is(err, domain.ErrMalformedRequest):
		return http.StatusBadRequest, "malformed request"
	case errors.Is(err, domain.ErrInvalidTransaction),
		errors.Is(err, domain.ErrLimitExceeded),
		errors.Is(err, domain.ErrBalanceOverflow):
		return http.StatusUnprocessableEntity, "transaction rejected"
	case errors.As(err, &fiberErr):
		// 路由不存在、方法不允許等 fiber 自身的錯誤
		return fiberErr.Code, fiberErr.Message
	}
	return http.StatusInternalServerError, "internal error"
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code, msg := statusOf(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestIDOf(c)),
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(code).SendString(msg)
}
