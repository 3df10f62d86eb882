package order

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Side 表示买卖方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide 大小写不敏感地解析方向。
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	default:
		return "", false
	}
}

// Kind 区分限价单与市价单。
type Kind string

const (
	KindLimit  Kind = "limit"
	KindMarket Kind = "market"
)

// Order 是通过校验、进入缓冲区后的不可变订单。
type Order struct {
	OrderID string          `json:"orderId,omitempty"`
	Market  string          `json:"market"`
	Side    Side            `json:"side"`
	Kind    Kind            `json:"kind"`
	Price   decimal.Decimal `json:"price"`
	Amount  decimal.Decimal `json:"amount"`
	IsMaker bool            `json:"isMaker"`
	UserID  string          `json:"userId,omitempty"`
}

// RawOrder 是接入层传入的原始下单请求。
// Price 与 Amount 保留原始文本，用于精度校验。
type RawOrder struct {
	Price   json.Number `json:"price"`
	Amount  json.Number `json:"amount"`
	Market  string      `json:"market"`
	Symbol  string      `json:"symbol"`
	Side    string      `json:"side"`
	IsMaker bool        `json:"isMaker"`
	UserID  string      `json:"userId,omitempty"`
}

// MarketSymbol 返回规范化后的市场代码，兼容 symbol 字段。
func (r RawOrder) MarketSymbol() string {
	market := r.Market
	if strings.TrimSpace(market) == "" {
		market = r.Symbol
	}
	return NormalizeMarket(market)
}

// NormalizeMarket 去除空白并转为大写。
func NormalizeMarket(market string) string {
	return strings.ToUpper(strings.TrimSpace(market))
}
