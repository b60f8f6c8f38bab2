package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes wallet provisioning endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	InitialBalance decimal.NullDecimal `json:"initialBalance"`
}

type walletResponse struct {
	WalletID string          `json:"walletId"`
	Balance  decimal.Decimal `json:"balance"`
	Version  int64           `json:"version"`
}

// Create provisions a wallet with an optional initial balance.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid JSON body")
		}
	}

	input := CreateInput{InitialBalance: decimal.Zero}
	if req.InitialBalance.Valid {
		input.InitialBalance = req.InitialBalance.Decimal
	}

	w, err := h.service.Create(c.UserContext(), input)
	if err != nil {
		if errors.Is(err, ErrInvalidInitialBalance) || errors.Is(err, ErrNegativeBalance) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return err
	}

	return c.Status(http.StatusCreated).JSON(walletResponse{
		WalletID: w.ID,
		Balance:  w.Balance,
		Version:  w.Version,
	})
}
