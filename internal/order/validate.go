package order

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	// 价格与数量最多两位小数，按原始文本判断，不做四舍五入。
	decimalPattern   = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
	symbolPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	blacklistPattern = regexp.MustCompile(`(?i)(;|--|\b(SELECT|INSERT|UPDATE|DELETE|DROP|ALTER|EXEC)\b)`)
)

var validate = newValidate()

// submission 是规范化后待校验的请求。
type submission struct {
	Price  string `json:"price" validate:"required,decimal2,positive"`
	Amount string `json:"amount" validate:"required,decimal2,positive"`
	Market string `json:"market" validate:"required,max=10,symbol,nosql"`
	Side   string `json:"side" validate:"required,oneof=BUY SELL"`
	UserID string `json:"userId" validate:"omitempty,max=64"`
}

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(v.RegisterValidation("decimal2", func(fl validator.FieldLevel) bool {
		return decimalPattern.MatchString(fl.Field().String())
	}))
	must(v.RegisterValidation("positive", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.IsPositive()
	}))
	must(v.RegisterValidation("symbol", func(fl validator.FieldLevel) bool {
		return symbolPattern.MatchString(fl.Field().String())
	}))
	must(v.RegisterValidation("nosql", func(fl validator.FieldLevel) bool {
		return !blacklistPattern.MatchString(fl.Field().String())
	}))
	return v
}

// Policy 描述引擎画像对订单的附加约束。
type Policy struct {
	Kind        Kind
	RequireUser bool
}

// Validator 校验并规范化原始订单。它不持有可变状态，可并发使用。
type Validator struct {
	policy Policy
}

// NewValidator 创建校验器。
func NewValidator(policy Policy) *Validator {
	if policy.Kind == "" {
		policy.Kind = KindLimit
	}
	return &Validator{policy: policy}
}

// Validate 校验必填字段与业务规则，成功时返回规范化后的订单。
func (v *Validator) Validate(raw RawOrder) (Order, error) {
	side, _ := ParseSide(raw.Side)
	sub := submission{
		Price:  strings.TrimSpace(raw.Price.String()),
		Amount: strings.TrimSpace(raw.Amount.String()),
		Market: strings.TrimSpace(firstNonEmpty(raw.Market, raw.Symbol)),
		Side:   string(side),
		UserID: strings.TrimSpace(raw.UserID),
	}
	if side == "" && strings.TrimSpace(raw.Side) != "" {
		return Order{}, invalid("side", "must be BUY or SELL")
	}

	if err := validate.Struct(sub); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return Order{}, invalid(fe.Field(), reason(fe))
		}
		return Order{}, invalid("order", err.Error())
	}

	if v.policy.RequireUser && sub.UserID == "" {
		return Order{}, invalid("userId", "is required")
	}

	o := Order{
		Market:  strings.ToUpper(sub.Market),
		Side:    side,
		Kind:    v.policy.Kind,
		Price:   decimal.RequireFromString(sub.Price),
		Amount:  decimal.RequireFromString(sub.Amount),
		IsMaker: raw.IsMaker,
		UserID:  sub.UserID,
	}
	if o.Kind == KindMarket {
		o.IsMaker = false
	}
	return o, nil
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "decimal2":
		return "must be a plain decimal with at most two fractional digits"
	case "positive":
		return "must be greater than 0"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "symbol":
		return "only alphanumeric characters, dashes and underscores are allowed"
	case "nosql":
		return "contains forbidden characters"
	case "oneof":
		return "must be BUY or SELL"
	default:
		return "failed " + fe.Tag()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
