package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
)

// IdempotencyKeyHeader 選填的冪等鍵 (UUID)
const IdempotencyKeyHeader = "Idempotency-Key"

type transactionResponse struct {
	Limit   int64 `json:"limit"`
	Balance int64 `json:"balance"`
}

type statementBalance struct {
	Total         int64  `json:"total"`
	StatementDate string `json:"statement_date"`
	Limit         int64  `json:"limit"`
}

type statementEntry struct {
	Amount      int64  `json:"amount"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

type statementResponse struct {
	Balance          statementBalance `json:"balance"`
	LastTransactions []statementEntry `json:"last_transactions"`
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.SendString("Healthy")
}

// clientID 解析路徑上的客戶 ID，非數字視為不存在
func clientID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return 0, domain.ErrClientNotFound
	}
	return id, nil
}

func (s *Server) getStatement(c *fiber.Ctx) error {
	id, err := clientID(c)
	if err != nil {
		return err
	}

	stmt, err := s.core.BuildStatement(c.UserContext(), id)
	if err != nil {
		return err
	}

	resp := statementResponse{
		Balance: statementBalance{
			Total:         stmt.Total,
			StatementDate: stmt.StatementDate,
			Limit:         stmt.Limit,
		},
		LastTransactions: make([]statementEntry, 0, len(stmt.LastTransactions)),
	}
	for _, e := range stmt.LastTransactions {
		resp.LastTransactions = append(resp.LastTransactions, statementEntry{
			Amount:      e.Amount,
			Kind:        e.Kind,
			Description: e.Description,
		})
	}
	return c.JSON(resp)
}

func (s *Server) postTransaction(c *fiber.Ctx) error {
	id, err := clientID(c)
	if err != nil {
		return err
	}
	// 客戶不存在時不看 body
	if !s.core.HasClient(id) {
		return domain.ErrClientNotFound
	}

	req := usecase.TransactionRequest{}
	if key := c.Get(IdempotencyKeyHeader); key != "" {
		ref, err := uuid.Parse(key)
		if err != nil {
			return fmt.Errorf("%w: idempotency key: %w", domain.ErrMalformedRequest, err)
		}
		req.RefID = ref
	}

	payload, err := decodeObject(c.Body())
	if err != nil {
		return err
	}
	req.Amount = payload["amount"]
	req.Kind = payload["kind"]
	req.Description = payload["description"]

	dto, err := s.core.SubmitTransaction(c.UserContext(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(transactionResponse{Limit: dto.Limit, Balance: dto.Balance})
}

// decodeObject 解析 JSON 物件，數字保留為 json.Number 交給驗證器判斷是否為整數
func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedRequest, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: body is not an object", domain.ErrMalformedRequest)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", domain.ErrMalformedRequest)
	}
	return payload, nil
}
