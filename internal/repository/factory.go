package repository

import (
	"github.com/agentmesh/billing/internal/domain/invoice"
	"github.com/agentmesh/billing/internal/domain/payment"
	"github.com/agentmesh/billing/internal/domain/plan"
	"github.com/agentmesh/billing/internal/domain/subscription"
	"github.com/agentmesh/billing/internal/domain/usage"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/postgres"
	postgresRepo "github.com/agentmesh/billing/internal/repository/postgres"
)

func NewUsageRepository(client postgres.IClient, logger *logger.Logger) usage.Repository {
	return postgresRepo.NewUsageRepository(client, logger)
}

func NewPlanRepository(client postgres.IClient, logger *logger.Logger) plan.Repository {
	return postgresRepo.NewPlanRepository(client, logger)
}

func NewSubscriptionRepository(client postgres.IClient, logger *logger.Logger) subscription.Repository {
	return postgresRepo.NewSubscriptionRepository(client, logger)
}

func NewAgentSubscriptionRepository(client postgres.IClient, logger *logger.Logger) subscription.AgentSubscriptionRepository {
	return postgresRepo.NewAgentSubscriptionRepository(client, logger)
}

func NewInvoiceRepository(client postgres.IClient, logger *logger.Logger) invoice.Repository {
	return postgresRepo.NewInvoiceRepository(client, logger)
}

func NewPaymentRepository(client postgres.IClient, logger *logger.Logger) payment.Repository {
	return postgresRepo.NewPaymentRepository(client, logger)
}
