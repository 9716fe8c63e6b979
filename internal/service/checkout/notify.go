package checkout

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/notify"
)

// notifyAsync запускает уведомления в фоне и сразу возвращает управление.
// Каждая задача изолирована: ошибка или паника одной не мешает остальным.
func (o *Orchestrator) notifyAsync(ctx context.Context, order domain.Order, identity domain.Identity, subscribe bool) {
	tasks := o.notificationTasks(order, identity, subscribe)
	if len(tasks) == 0 {
		return
	}

	o.notifications.Add(1)
	go func() {
		defer o.notifications.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.NotifyTimeout)
		defer cancel()

		ctx, span := o.tracer.Start(ctx, "checkout."+string(domain.StageNotifying))
		defer span.End()

		var g errgroup.Group
		for name, task := range tasks {
			name, task := name, task
			g.Go(func() error {
				o.runNotification(ctx, order, name, task)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

type notificationTask func(ctx context.Context) error

func (o *Orchestrator) notificationTasks(order domain.Order, identity domain.Identity, subscribe bool) map[string]notificationTask {
	tasks := make(map[string]notificationTask, 3)

	if o.deps.Mailer != nil && identity.Email != "" {
		tasks["customer_email"] = func(ctx context.Context) error {
			var invoice domain.Attachment
			if o.deps.Invoices != nil {
				var err error
				invoice, err = o.deps.Invoices.Render(ctx, order)
				if err != nil {
					return fmt.Errorf("render invoice: %w", err)
				}
			}
			mail := notify.CustomerConfirmation(order, identity, invoice)
			if invoice.Filename == "" {
				mail.Attachments = nil
			}
			return o.deps.Mailer.Send(ctx, mail)
		}
	}

	if o.deps.Mailer != nil && o.cfg.SellerEmail != "" {
		tasks["seller_email"] = func(ctx context.Context) error {
			return o.deps.Mailer.Send(ctx, notify.SellerPreparation(order, o.cfg.SellerEmail))
		}
	}

	if subscribe && o.deps.Newsletter != nil && identity.Email != "" {
		tasks["newsletter"] = func(ctx context.Context) error {
			return o.deps.Newsletter.Subscribe(ctx, identity.Email, identity.Name)
		}
	}

	return tasks
}

func (o *Orchestrator) runNotification(ctx context.Context, order domain.Order, name string, task notificationTask) {
	defer func() {
		if r := recover(); r != nil {
			o.notificationFailed(ctx, order, name, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := task(ctx); err != nil {
		o.notificationFailed(ctx, order, name, err)
	}
}

func (o *Orchestrator) notificationFailed(ctx context.Context, order domain.Order, name string, err error) {
	o.logger.WithError(err).WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"notification": name,
	}).Warn("notification failed")
	o.metrics.RecordPostCommitFailure(name)
	o.appendTimeline(ctx, order.ID, domain.TimelineNotificationFailed, name+": "+err.Error())
}
