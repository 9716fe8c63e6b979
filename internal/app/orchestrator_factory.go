package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/inventory"
	"github.com/vladislavdragonenkov/checkout/internal/service/notify"
)

// createOrchestrator собирает сагу оформления заказа. С Kafka письма ставятся
// в очередь TopicMail, без неё только пишутся в лог.
func createOrchestrator(
	cfg Config,
	deps *runtimeDependencies,
	kafkaProducer *kafka.Producer,
	logger *log.Entry,
) *checkout.Orchestrator {
	var mailer domain.Mailer
	if kafkaProducer != nil {
		mailer = kafka.NewMailPublisher(kafkaProducer, kafka.TopicMail)
	} else {
		mailer = notify.NewLogMailer(logger.WithField("component", "mailer"))
	}

	stock := inventory.NewManager(deps.variants, inventory.WithLogger(logger.WithField("component", "inventory")))

	return checkout.NewOrchestrator(
		checkout.Dependencies{
			Orders:     deps.repo,
			Carts:      deps.carts,
			Sessions:   deps.sessions,
			Addresses:  deps.addresses,
			Inventory:  stock,
			Invoices:   notify.NewTextInvoiceRenderer(),
			Mailer:     mailer,
			Newsletter: deps.newsletter,
			Limiter:    deps.limiter,
			Outbox:     deps.outboxRepo,
			Timeline:   deps.timelineRepo,
		},
		cfg.Checkout,
		checkout.WithLogger(logger.WithField("component", "checkout")),
		checkout.WithMetrics(metrics.NewCheckoutMetrics()),
	)
}
