package procurement

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// Tolerance bounds acceptable three-way match variances. Percentages are
// expressed in percent, e.g. 2 means 2%.
type Tolerance struct {
	QuantityPct decimal.Decimal
	PricePct    decimal.Decimal
	PriceFloor  decimal.Decimal
}

// DefaultTolerance is 2% quantity, 5% price with a 0.01 floor.
func DefaultTolerance() Tolerance {
	return Tolerance{
		QuantityPct: decimal.NewFromInt(2),
		PricePct:    decimal.NewFromInt(5),
		PriceFloor:  decimal.RequireFromString("0.01"),
	}
}

// QuantityLimit returns the allowed quantity variance for ordered units.
func (t Tolerance) QuantityLimit(ordered decimal.Decimal) decimal.Decimal {
	return t.QuantityPct.Mul(ordered).Div(hundred)
}

// PriceLimit returns the allowed price variance for a PO total.
func (t Tolerance) PriceLimit(total decimal.Decimal) decimal.Decimal {
	return decimal.Max(t.PricePct.Mul(total).Div(hundred), t.PriceFloor)
}

// ToleranceResolver picks the tolerance applicable to a supplier and currency.
type ToleranceResolver interface {
	Resolve(supplierID int64, currency string) Tolerance
}

type toleranceValues struct {
	QuantityPct *float64 `yaml:"quantity_pct"`
	PricePct    *float64 `yaml:"price_pct"`
	PriceFloor  *float64 `yaml:"price_floor"`
}

func (v toleranceValues) apply(base Tolerance) Tolerance {
	if v.QuantityPct != nil {
		base.QuantityPct = decimal.NewFromFloat(*v.QuantityPct)
	}
	if v.PricePct != nil {
		base.PricePct = decimal.NewFromFloat(*v.PricePct)
	}
	if v.PriceFloor != nil {
		base.PriceFloor = decimal.NewFromFloat(*v.PriceFloor)
	}
	return base
}

func (v toleranceValues) validate() error {
	for name, p := range map[string]*float64{"quantity_pct": v.QuantityPct, "price_pct": v.PricePct, "price_floor": v.PriceFloor} {
		if p != nil && *p < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	return nil
}

type toleranceOverride struct {
	SupplierID      int64  `yaml:"supplier_id"`
	Currency        string `yaml:"currency"`
	toleranceValues `yaml:",inline"`
}

type toleranceFile struct {
	Default   toleranceValues     `yaml:"default"`
	Overrides []toleranceOverride `yaml:"overrides"`
}

// TolerancePolicy resolves overrides by specificity: supplier and currency,
// then supplier, then currency, then the defaults.
type TolerancePolicy struct {
	defaults  Tolerance
	overrides []toleranceOverride
}

// NewTolerancePolicy returns a policy without overrides.
func NewTolerancePolicy(defaults Tolerance) *TolerancePolicy {
	return &TolerancePolicy{defaults: defaults}
}

// LoadTolerancePolicy reads overrides from a YAML file. An empty path yields
// the defaults only.
func LoadTolerancePolicy(path string, defaults Tolerance) (*TolerancePolicy, error) {
	if path == "" {
		return NewTolerancePolicy(defaults), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tolerance file: %w", err)
	}
	return ParseTolerancePolicy(data, defaults)
}

// ParseTolerancePolicy decodes a YAML tolerance document.
func ParseTolerancePolicy(data []byte, defaults Tolerance) (*TolerancePolicy, error) {
	var file toleranceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tolerance file: %w", err)
	}
	if err := file.Default.validate(); err != nil {
		return nil, fmt.Errorf("%w: default tolerance: %v", shared.ErrValidation, err)
	}
	policy := &TolerancePolicy{defaults: file.Default.apply(defaults)}
	for i, o := range file.Overrides {
		if o.SupplierID == 0 && o.Currency == "" {
			return nil, fmt.Errorf("%w: tolerance override %d needs supplier_id or currency", shared.ErrValidation, i+1)
		}
		if err := o.validate(); err != nil {
			return nil, fmt.Errorf("%w: tolerance override %d: %v", shared.ErrValidation, i+1, err)
		}
		o.Currency = strings.ToUpper(strings.TrimSpace(o.Currency))
		policy.overrides = append(policy.overrides, o)
	}
	return policy, nil
}

// Resolve implements ToleranceResolver.
func (p *TolerancePolicy) Resolve(supplierID int64, currency string) Tolerance {
	if p == nil {
		return DefaultTolerance()
	}
	currency = strings.ToUpper(currency)
	best, bestScore := -1, 0
	for i, o := range p.overrides {
		score := 0
		switch {
		case o.SupplierID != 0 && o.SupplierID != supplierID:
			continue
		case o.SupplierID != 0:
			score += 2
		}
		switch {
		case o.Currency != "" && o.Currency != currency:
			continue
		case o.Currency != "":
			score++
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return p.defaults
	}
	return p.overrides[best].apply(p.defaults)
}
