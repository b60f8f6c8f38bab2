package ledger

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Handler exposes the engine over HTTP.
type Handler struct {
	engine *Engine
}

// NewHandler constructs a ledger handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type operationRequest struct {
	WalletID      string          `json:"walletId"`
	OperationType string          `json:"operationType"`
	Amount        decimal.Decimal `json:"amount"`
}

type balanceResponse struct {
	WalletID string          `json:"walletId"`
	Balance  decimal.Decimal `json:"balance"`
}

// Operate applies a deposit or withdrawal described by the request body.
func (h *Handler) Operate(c *fiber.Ctx) error {
	var req operationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid JSON body")
	}
	if _, err := uuid.Parse(req.WalletID); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid wallet ID format")
	}
	kind, err := ParseKind(req.OperationType)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, ErrInvalidOperation.Error())
	}

	balance, err := h.engine.ApplyOperation(c.UserContext(), req.WalletID, kind, req.Amount)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(http.StatusOK).JSON(balanceResponse{WalletID: req.WalletID, Balance: balance})
}

// Balance returns the committed balance of the wallet named in the path.
func (h *Handler) Balance(c *fiber.Ctx) error {
	walletID := c.Params("walletId")
	if _, err := uuid.Parse(walletID); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid wallet ID format")
	}

	balance, err := h.engine.GetBalance(c.UserContext(), walletID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(http.StatusOK).JSON(balanceResponse{WalletID: walletID, Balance: balance})
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidOperation),
		errors.Is(err, ErrInsufficientFunds):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConcurrencyConflict):
		return fiber.NewError(http.StatusConflict, ErrConcurrencyConflict.Error())
	default:
		return err
	}
}
