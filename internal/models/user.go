package models

import (
	"github.com/shopspring/decimal"
)

type User struct {
	ID            string          `json:"user_id"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
}
