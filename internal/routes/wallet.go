package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletd/internal/ledger"
	"github.com/congo-pay/walletd/internal/wallet"
)

// RegisterWalletRoutes wires wallet provisioning, operation and balance endpoints.
func RegisterWalletRoutes(r fiber.Router, wallets *wallet.Handler, ops *ledger.Handler) {
	r.Post("/wallets", wallets.Create)
	r.Post("/wallet", ops.Operate)
	r.Get("/wallets/:walletId", ops.Balance)
}
