package pricing

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrInvalidRule is returned when a bulk discount rule fails configuration
// checks. Callers in the service layer wrap it with models.ErrInvariantViolation.
var ErrInvalidRule = errors.New("invalid bulk discount rule")

// RuleKind is the wire tag of a bulk discount rule.
type RuleKind string

const (
	KindBuyXGetY           RuleKind = "buy_x_get_y"
	KindAmountOffPerTicket RuleKind = "amount_off_per_ticket"
	KindPercentOff         RuleKind = "buy_x_percent_off"
)

// Discount is the closed set of bulk discount terms. Only the types in this
// file implement it.
type Discount interface {
	Kind() RuleKind
	validate() error
}

// BuyXGetY makes getQty units free in every complete group of buyQty units.
type BuyXGetY struct {
	BuyQty int
	GetQty int
}

// AmountOffPerTicket takes a flat amount off every unit once MinQty is reached.
type AmountOffPerTicket struct {
	MinQty    int
	AmountOff decimal.Decimal
}

// PercentOff takes a percentage off the whole line once MinQty is reached.
type PercentOff struct {
	MinQty     int
	PercentOff decimal.Decimal
}

func (BuyXGetY) Kind() RuleKind           { return KindBuyXGetY }
func (AmountOffPerTicket) Kind() RuleKind { return KindAmountOffPerTicket }
func (PercentOff) Kind() RuleKind         { return KindPercentOff }

func (r BuyXGetY) validate() error {
	if r.BuyQty < 1 || r.GetQty < 1 {
		return fmt.Errorf("%w: buy_qty and get_qty must be at least 1", ErrInvalidRule)
	}
	if r.GetQty >= r.BuyQty {
		return fmt.Errorf("%w: get_qty (%d) must be lower than buy_qty (%d)", ErrInvalidRule, r.GetQty, r.BuyQty)
	}
	return nil
}

func (r AmountOffPerTicket) validate() error {
	if r.MinQty < 1 {
		return fmt.Errorf("%w: min_qty must be at least 1", ErrInvalidRule)
	}
	if !r.AmountOff.IsPositive() {
		return fmt.Errorf("%w: amount_off must be positive", ErrInvalidRule)
	}
	return nil
}

func (r PercentOff) validate() error {
	if r.MinQty < 1 {
		return fmt.Errorf("%w: min_qty must be at least 1", ErrInvalidRule)
	}
	if !r.PercentOff.IsPositive() || r.PercentOff.GreaterThan(hundred) {
		return fmt.Errorf("%w: percent_off must be in (0, 100]", ErrInvalidRule)
	}
	return nil
}

// BulkDiscountRule is one configured rule of a ticket type.
type BulkDiscountRule struct {
	ID       string
	Discount Discount
}

// Validate checks the configuration constraints of the rule.
func (r BulkDiscountRule) Validate() error {
	if r.Discount == nil {
		return fmt.Errorf("%w: missing rule terms", ErrInvalidRule)
	}
	return r.Discount.validate()
}

// ruleDTO is the flat wire shape shared by JSON and YAML.
type ruleDTO struct {
	ID         string           `json:"id,omitempty" yaml:"id,omitempty"`
	RuleType   RuleKind         `json:"rule_type" yaml:"rule_type"`
	BuyQty     int              `json:"buy_qty,omitempty" yaml:"buy_qty,omitempty"`
	GetQty     int              `json:"get_qty,omitempty" yaml:"get_qty,omitempty"`
	MinQty     int              `json:"min_qty,omitempty" yaml:"min_qty,omitempty"`
	AmountOff  *decimal.Decimal `json:"amount_off,omitempty" yaml:"-"`
	PercentOff *decimal.Decimal `json:"percent_off,omitempty" yaml:"-"`

	// yaml.v3 does not know decimal.Decimal, so YAML carries plain strings.
	AmountOffText  string `json:"-" yaml:"amount_off,omitempty"`
	PercentOffText string `json:"-" yaml:"percent_off,omitempty"`
}

func (r BulkDiscountRule) toDTO() (ruleDTO, error) {
	dto := ruleDTO{ID: r.ID}
	switch d := r.Discount.(type) {
	case BuyXGetY:
		dto.RuleType = KindBuyXGetY
		dto.BuyQty = d.BuyQty
		dto.GetQty = d.GetQty
	case AmountOffPerTicket:
		dto.RuleType = KindAmountOffPerTicket
		dto.MinQty = d.MinQty
		amount := d.AmountOff
		dto.AmountOff = &amount
		dto.AmountOffText = amount.String()
	case PercentOff:
		dto.RuleType = KindPercentOff
		dto.MinQty = d.MinQty
		pct := d.PercentOff
		dto.PercentOff = &pct
		dto.PercentOffText = pct.String()
	default:
		return ruleDTO{}, fmt.Errorf("%w: unknown rule terms %T", ErrInvalidRule, r.Discount)
	}
	return dto, nil
}

func (dto ruleDTO) toRule() (BulkDiscountRule, error) {
	rule := BulkDiscountRule{ID: dto.ID}
	switch dto.RuleType {
	case KindBuyXGetY:
		rule.Discount = BuyXGetY{BuyQty: dto.BuyQty, GetQty: dto.GetQty}
	case KindAmountOffPerTicket:
		if dto.AmountOff == nil {
			return rule, fmt.Errorf("%w: amount_off is required", ErrInvalidRule)
		}
		rule.Discount = AmountOffPerTicket{MinQty: dto.MinQty, AmountOff: *dto.AmountOff}
	case KindPercentOff:
		if dto.PercentOff == nil {
			return rule, fmt.Errorf("%w: percent_off is required", ErrInvalidRule)
		}
		rule.Discount = PercentOff{MinQty: dto.MinQty, PercentOff: *dto.PercentOff}
	default:
		return rule, fmt.Errorf("%w: unsupported rule_type %q", ErrInvalidRule, dto.RuleType)
	}
	if err := rule.Validate(); err != nil {
		return rule, err
	}
	return rule, nil
}

func (r BulkDiscountRule) MarshalJSON() ([]byte, error) {
	dto, err := r.toDTO()
	if err != nil {
		return nil, err
	}
	return json.Marshal(dto)
}

// UnmarshalJSON decodes and validates a rule.
func (r *BulkDiscountRule) UnmarshalJSON(data []byte) error {
	var dto ruleDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	rule, err := dto.toRule()
	if err != nil {
		return err
	}
	*r = rule
	return nil
}

func (r BulkDiscountRule) MarshalYAML() (interface{}, error) {
	return r.toDTO()
}

// UnmarshalYAML decodes and validates a rule from a catalog file.
func (r *BulkDiscountRule) UnmarshalYAML(node *yaml.Node) error {
	var dto ruleDTO
	if err := node.Decode(&dto); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if dto.AmountOffText != "" {
		amount, err := decimal.NewFromString(dto.AmountOffText)
		if err != nil {
			return fmt.Errorf("%w: amount_off: %v", ErrInvalidRule, err)
		}
		dto.AmountOff = &amount
	}
	if dto.PercentOffText != "" {
		pct, err := decimal.NewFromString(dto.PercentOffText)
		if err != nil {
			return fmt.Errorf("%w: percent_off: %v", ErrInvalidRule, err)
		}
		dto.PercentOff = &pct
	}
	rule, err := dto.toRule()
	if err != nil {
		return err
	}
	*r = rule
	return nil
}

// Rules is the ordered rule list of a ticket type. It is stored as a JSON
// column and validated every time it is read back.
type Rules []BulkDiscountRule

// Validate checks every rule and fills missing IDs from declaration order.
func (rs Rules) Validate() error {
	for i := range rs {
		if err := rs[i].Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i+1, err)
		}
		if rs[i].ID == "" {
			rs[i].ID = fmt.Sprintf("rule-%d", i+1)
		}
	}
	return nil
}

func (rs Rules) Value() (driver.Value, error) {
	if rs == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]BulkDiscountRule(rs))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (rs *Rules) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*rs = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("pricing: cannot scan %T into Rules", src)
	}
	var decoded []BulkDiscountRule
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	out := Rules(decoded)
	if err := out.Validate(); err != nil {
		return err
	}
	*rs = out
	return nil
}
