package plan

import (
	"database/sql/driver"

	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Plan is a catalog entry. Plans are immutable once published; price changes
// are new plans.
type Plan struct {
	ID                 string             `db:"id" json:"id"`
	Name               string             `db:"name" json:"name"`
	BillingCycle       types.BillingCycle `db:"billing_cycle" json:"billing_cycle"`
	BasePrice          decimal.Decimal    `db:"base_price" json:"base_price"`
	FinalPrice         decimal.Decimal    `db:"final_price" json:"final_price"`
	Currency           string             `db:"currency" json:"currency"`
	IncludedExecutions int64              `db:"included_executions" json:"included_executions"`

	// null means overage is not allowed and usage stops at the quota
	OveragePricePerExecution decimal.NullDecimal `db:"overage_price_per_execution" json:"overage_price_per_execution"`

	MaxAgentSlots int         `db:"max_agent_slots" json:"max_agent_slots"`
	AgentLimits   AgentLimits `db:"agent_limits" json:"agent_limits"`
	TrialDays     int         `db:"trial_days" json:"trial_days"`
	types.BaseModel
}

// IsFree reports whether the plan never produces a payable invoice
func (p *Plan) IsFree() bool {
	return p.FinalPrice.IsZero()
}

// OverageAllowed reports whether executions past the quota are billable
func (p *Plan) OverageAllowed() bool {
	return p.OveragePricePerExecution.Valid
}

// OveragePrice returns the per-execution overage price, zero when overage is forbidden
func (p *Plan) OveragePrice() decimal.Decimal {
	if !p.OveragePricePerExecution.Valid {
		return decimal.Zero
	}
	return p.OveragePricePerExecution.Decimal
}

// MonthlyEquivalentPrice spreads the period price over the months of the cycle
func (p *Plan) MonthlyEquivalentPrice() decimal.Decimal {
	months := p.BillingCycle.Months()
	if months <= 1 {
		return p.FinalPrice
	}
	return p.FinalPrice.Div(decimal.NewFromInt(int64(months))).Round(2)
}

func (p *Plan) Validate() error {
	if p.Name == "" {
		return ierr.NewError("plan name is required").
			WithHint("Plan name is required").
			Mark(ierr.ErrValidation)
	}
	if err := p.BillingCycle.Validate(); err != nil {
		return err
	}
	if p.FinalPrice.IsNegative() || p.BasePrice.IsNegative() {
		return ierr.NewError("plan price cannot be negative").
			WithHint("Plan prices must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	if p.IncludedExecutions < 0 {
		return ierr.NewError("included executions cannot be negative").
			WithHint("Included executions must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	if p.OverageAllowed() && p.OveragePricePerExecution.Decimal.IsNegative() {
		return ierr.NewError("overage price cannot be negative").
			WithHint("Overage price must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	if p.TrialDays < 0 {
		return ierr.NewError("trial days cannot be negative").
			WithHint("Trial days must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// AgentLimits maps an agent tier to the number of agents allowed on it
type AgentLimits map[string]int

func (a *AgentLimits) Scan(value interface{}) error {
	if value == nil {
		*a = AgentLimits{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return ierr.NewErrorf("unsupported agent_limits type %T", value).
			Mark(ierr.ErrDatabase)
	}
	out := AgentLimits{}
	if err := json.Unmarshal(b, &out); err != nil {
		return ierr.WithError(err).
			WithHint("Stored agent limits are not valid JSON").
			Mark(ierr.ErrDatabase)
	}
	*a = out
	return nil
}

func (a AgentLimits) Value() (driver.Value, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a)
}
