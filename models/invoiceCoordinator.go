package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

var tracer = otel.Tracer("gst-billing/invoice")

type CompanyRepository interface {
	Get(ctx context.Context) (*Company, error)
}

type ClientRepository interface {
	Get(ctx context.Context, id int) (*Client, error)
}

type ItemRepository interface {
	Get(ctx context.Context, id int) (*Item, error)
}

// InvoiceStore is the transactional boundary. AtomicCreate must allocate
// the number and insert header and lines in one transaction.
type InvoiceStore interface {
	AtomicCreate(ctx context.Context, inv *Invoice) error
	Transition(ctx context.Context, id int, from InvoiceStatus, to InvoiceStatus) error
}

// InvoiceCoordinator runs invoice creation and cancellation end to end.
type InvoiceCoordinator struct {
	Companies   CompanyRepository
	Clients     ClientRepository
	Items       ItemRepository
	Store       InvoiceStore
	Audit       AuditSink
	Logger      *logrus.Logger
	MaxAttempts int
	// RetryDelay is the base wait between attempts; attempt n waits n*RetryDelay.
	RetryDelay time.Duration
}

// NewInvoiceCoordinator wires the gorm backed collaborators around db.
func NewInvoiceCoordinator(db *gorm.DB) *InvoiceCoordinator {
	return &InvoiceCoordinator{
		Companies:   GormCompanyRepository{DB: db},
		Clients:     GormClientRepository{DB: db},
		Items:       GormItemRepository{DB: db},
		Store:       GormInvoiceStore{DB: db},
		Audit:       packageAuditSink{},
		Logger:      config.GetLogger(),
		MaxAttempts: config.InvoiceCreateMaxAttempts(),
		RetryDelay:  25 * time.Millisecond,
	}
}

// packageAuditSink forwards to whatever SetAuditSink installed.
type packageAuditSink struct{}

func (packageAuditSink) Record(ctx context.Context, event AuditEvent) {
	RecordAudit(ctx, event)
}

func (c *InvoiceCoordinator) attempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

func (c *InvoiceCoordinator) logger() *logrus.Logger {
	if c.Logger == nil {
		return config.GetLogger()
	}
	return c.Logger
}

// CreateInvoice validates the request, resolves references, computes lines
// and totals once, then persists with a fresh number. Only the persist step
// is retried.
func (c *InvoiceCoordinator) CreateInvoice(ctx context.Context, input *NewInvoice) (*CreatedInvoice, error) {
	ctx, span := tracer.Start(ctx, "InvoiceCoordinator.CreateInvoice")
	defer span.End()

	created, err := c.createInvoice(ctx, input, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("invoice.id", created.InvoiceId),
		attribute.String("invoice.number", created.InvoiceNumber),
	)
	return created, nil
}

func (c *InvoiceCoordinator) createInvoice(ctx context.Context, input *NewInvoice, span trace.Span) (*CreatedInvoice, error) {
	if input == nil {
		return nil, NewValidationError("request body is required")
	}
	shipping, err := input.validate()
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("invoice.client_id", input.ClientId),
		attribute.Int("invoice.line_count", len(input.InvoiceItems)),
	)

	company, err := c.Companies.Get(ctx)
	if err != nil {
		return nil, internalError("load company", err)
	}
	companyState, err := NormalizeState(company.CompanyState)
	if err != nil {
		return nil, NewFieldError("company_state", "company profile has an unrecognised state")
	}

	client, err := c.Clients.Get(ctx, input.ClientId)
	if err != nil {
		return nil, internalError("load client", err)
	}
	clientState, err := NormalizeState(client.ClientState)
	if err != nil {
		return nil, NewFieldError("client_state", "client has an unrecognised state")
	}

	items := make(map[int]*Item, len(input.InvoiceItems))
	lines := make([]InvoiceLine, 0, len(input.InvoiceItems))
	for i, req := range input.InvoiceItems {
		item, ok := items[req.ItemId]
		if !ok {
			item, err = c.Items.Get(ctx, req.ItemId)
			if err != nil {
				return nil, internalError("load item", err)
			}
			items[req.ItemId] = item
		}
		line, err := EvaluateLine(companyState, clientState, *item, req.Quantity)
		if err != nil {
			return nil, err
		}
		line.LineNo = i + 1
		lines = append(lines, line)
	}

	totals, err := AggregateLines(lines)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("invoice.gst_type", totals.GstType.String()))

	draft := newInvoiceSnapshot(input, company, companyState, client, clientState, shipping, totals, lines)
	inv, err := c.persist(ctx, draft)
	if err != nil {
		return nil, err
	}

	c.Audit.Record(ctx, AuditEvent{
		Action:     AuditActionCreate,
		EntityType: EntityInvoice,
		EntityId:   inv.ID,
		NewValues:  inv.Detail(),
	})
	invalidateDashboard(ctx)

	return &CreatedInvoice{InvoiceId: inv.ID, InvoiceNumber: inv.InvoiceNumber}, nil
}

// persist runs AtomicCreate up to MaxAttempts times. Every attempt starts
// from a fresh copy of draft so nothing from a rolled back attempt leaks.
func (c *InvoiceCoordinator) persist(ctx context.Context, draft *Invoice) (*Invoice, error) {
	release, _ := utils.TryLock(ctx, "InvoiceSequence:"+draft.BillingPeriod, 15*time.Second, "Invoice", "CreateInvoice")
	defer release()

	var inv *Invoice
	err := c.withRetry(ctx, "CreateInvoice", func() error {
		inv = draft.fresh()
		return c.Store.AtomicCreate(ctx, inv)
	})
	if err == nil {
		return inv, nil
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return nil, conflict
	}
	if isDuplicateInvoiceNumber(err) {
		return nil, &ConflictError{Message: "invoice number could not be allocated, please retry"}
	}
	return nil, internalError("create invoice", err)
}

// withRetry retries fn while it fails with a retryable error and attempts
// remain. When attempts run out the last error is wrapped.
func (c *InvoiceCoordinator) withRetry(ctx context.Context, funcName string, fn func() error) error {
	limit := c.attempts()
	var err error
	for attempt := 1; attempt <= limit; attempt++ {
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
		if attempt == limit {
			break
		}

		c.logger().WithFields(logrus.Fields{
			"module":   "Invoice",
			"funcName": funcName,
			"attempt":  attempt,
			"error":    err.Error(),
		}).Warn("retrying after transaction conflict")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * c.RetryDelay):
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", limit, err)
}

func retryable(err error) bool {
	return isSerializationConflict(err) || isDuplicateInvoiceNumber(err)
}

// CancelInvoice moves a Finalized invoice to Cancelled. Cancelling twice is
// a conflict, not a no-op.
func (c *InvoiceCoordinator) CancelInvoice(ctx context.Context, id int) error {
	ctx, span := tracer.Start(ctx, "InvoiceCoordinator.CancelInvoice",
		trace.WithAttributes(attribute.Int("invoice.id", id)))
	defer span.End()

	err := c.cancelInvoice(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *InvoiceCoordinator) cancelInvoice(ctx context.Context, id int) error {
	if id <= 0 {
		return &NotFoundError{Entity: "invoice", Id: id}
	}

	err := c.withRetry(ctx, "CancelInvoice", func() error {
		return c.Store.Transition(ctx, id, InvoiceStatusFinalized, InvoiceStatusCancelled)
	})
	if err != nil {
		var conflict *ConflictError
		var notFound *NotFoundError
		if errors.As(err, &conflict) || errors.As(err, &notFound) {
			return err
		}
		return internalError("cancel invoice", err)
	}

	c.Audit.Record(ctx, AuditEvent{
		Action:     AuditActionCancel,
		EntityType: EntityInvoice,
		EntityId:   id,
		OldValues:  map[string]any{"status": InvoiceStatusFinalized},
		NewValues:  map[string]any{"status": InvoiceStatusCancelled},
	})
	invalidateDashboard(ctx)
	return nil
}

// CreateInvoice uses the process wide database.
func CreateInvoice(ctx context.Context, input *NewInvoice) (*CreatedInvoice, error) {
	return NewInvoiceCoordinator(config.GetDB()).CreateInvoice(ctx, input)
}

// CancelInvoice uses the process wide database.
func CancelInvoice(ctx context.Context, id int) error {
	return NewInvoiceCoordinator(config.GetDB()).CancelInvoice(ctx, id)
}
