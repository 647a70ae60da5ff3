package internal

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/agentmesh/billing/internal/config"
	"github.com/agentmesh/billing/internal/domain/plan"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/postgres"
	"github.com/agentmesh/billing/internal/repository"
	"github.com/agentmesh/billing/internal/types"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SeedPlans inserts every plan in PLANS_FILE. Plans that already exist are skipped,
// so the catalog file can be re-applied after adding entries.
func SeedPlans() error {
	path := os.Getenv("PLANS_FILE")
	if path == "" {
		return fmt.Errorf("PLANS_FILE is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var plans []*plan.Plan
	if err := json.Unmarshal(raw, &plans); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return err
	}
	db, err := postgres.NewDB(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := repository.NewPlanRepository(db, log)

	ctx := types.SetTenantID(context.Background(), types.DefaultTenantID)
	ctx = types.SetUserID(ctx, types.SystemUserID)
	now := time.Now().UTC()

	created := 0
	for _, p := range plans {
		if p.ID == "" {
			p.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN)
		}
		if p.Currency == "" {
			p.Currency = cfg.Paymob.Currency
		}
		if p.BasePrice.IsZero() {
			p.BasePrice = p.FinalPrice
		}
		p.BaseModel = types.GetDefaultBaseModel(ctx, now)

		if err := p.Validate(); err != nil {
			return fmt.Errorf("plan %q: %w", p.Name, err)
		}

		if err := repo.Create(ctx, p); err != nil {
			if postgres.IsUniqueViolation(err) {
				log.Infow("plan already exists, skipping", "plan_id", p.ID, "name", p.Name)
				continue
			}
			return fmt.Errorf("plan %q: %w", p.Name, err)
		}
		created++
		log.Infow("created plan", "plan_id", p.ID, "name", p.Name, "billing_cycle", p.BillingCycle)
	}

	log.Infow("plan catalog seeded", "created", created, "total", len(plans))
	return nil
}
