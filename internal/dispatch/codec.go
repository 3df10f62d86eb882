package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/darksunstealth/coinza-core-infrastructure/internal/order"
)

// Codec 将一个批次编码为消息体。
type Codec interface {
	Name() string
	Encode(orders []order.Order) ([]byte, error)
	Decode(data []byte) ([]order.Order, error)
}

// NewCodec 按名称返回编码器，支持 msgpack 与 json。
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "msgpack":
		return msgpackCodec{}, nil
	case "json":
		return jsonCodec{}, nil
	default:
		return nil, fmt.Errorf("dispatch: 不支持的编码 %q", name)
	}
}

// wireOrder 以文本保存价格与数量，避免精度丢失。
type wireOrder struct {
	OrderID string `json:"orderId,omitempty" msgpack:"orderId,omitempty"`
	Market  string `json:"market" msgpack:"market"`
	Side    string `json:"side" msgpack:"side"`
	Kind    string `json:"kind" msgpack:"kind"`
	Price   string `json:"price" msgpack:"price"`
	Amount  string `json:"amount" msgpack:"amount"`
	IsMaker bool   `json:"isMaker" msgpack:"isMaker"`
	UserID  string `json:"userId,omitempty" msgpack:"userId,omitempty"`
}

func toWire(orders []order.Order) []wireOrder {
	out := make([]wireOrder, len(orders))
	for i, o := range orders {
		out[i] = wireOrder{
			OrderID: o.OrderID,
			Market:  o.Market,
			Side:    string(o.Side),
			Kind:    string(o.Kind),
			Price:   o.Price.String(),
			Amount:  o.Amount.String(),
			IsMaker: o.IsMaker,
			UserID:  o.UserID,
		}
	}
	return out
}

func fromWire(in []wireOrder) ([]order.Order, error) {
	out := make([]order.Order, len(in))
	for i, w := range in {
		price, err := decimal.NewFromString(w.Price)
		if err != nil {
			return nil, fmt.Errorf("dispatch: 解析价格失败: %w", err)
		}
		amount, err := decimal.NewFromString(w.Amount)
		if err != nil {
			return nil, fmt.Errorf("dispatch: 解析数量失败: %w", err)
		}
		out[i] = order.Order{
			OrderID: w.OrderID,
			Market:  w.Market,
			Side:    order.Side(w.Side),
			Kind:    order.Kind(w.Kind),
			Price:   price,
			Amount:  amount,
			IsMaker: w.IsMaker,
			UserID:  w.UserID,
		}
	}
	return out, nil
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Encode(orders []order.Order) ([]byte, error) {
	data, err := msgpack.Marshal(toWire(orders))
	if err != nil {
		return nil, fmt.Errorf("dispatch: msgpack 编码失败: %w", err)
	}
	return data, nil
}

func (msgpackCodec) Decode(data []byte) ([]order.Order, error) {
	var wire []wireOrder
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("dispatch: msgpack 解码失败: %w", err)
	}
	return fromWire(wire)
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Encode(orders []order.Order) ([]byte, error) {
	data, err := json.Marshal(toWire(orders))
	if err != nil {
		return nil, fmt.Errorf("dispatch: json 编码失败: %w", err)
	}
	return data, nil
}

func (jsonCodec) Decode(data []byte) ([]order.Order, error) {
	var wire []wireOrder
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("dispatch: json 解码失败: %w", err)
	}
	return fromWire(wire)
}
