package router

import (
	"sync"

	"github.com/rockidapp/rockid-server/internal/pkg/billing"
	"github.com/rockidapp/rockid-server/internal/pkg/database"
	"github.com/rockidapp/rockid-server/internal/pkg/live"
)

var (
	billingService     *billing.Service
	billingServiceOnce sync.Once
)

// getBillingService builds the shared billing service on first use. Both the
// webhook receiver and the API routes mutate the same balances, so they must
// go through the same service instance.
func getBillingService() *billing.Service {
	billingServiceOnce.Do(func() {
		billingService = billing.NewServiceFromDB(database.GetDB()).
			WithNotifier(live.NewPublisher())
	})
	return billingService
}
