package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"billing-service/internal/config"
	ierr "billing-service/internal/errors"
	"billing-service/internal/gateway"
	"billing-service/internal/metrics"
	"billing-service/internal/models"
	"billing-service/internal/repository"
)

const (
	webhookRefKeyPrefix = "billing:webhook:ref:"
	webhookRefCacheTTL  = 72 * time.Hour
)

// WebhookOutcome is the final disposition of one webhook delivery.
type WebhookOutcome struct {
	Outcome               string
	GatewayTransactionRef string
	Attempts              int
	Transaction           *models.PaymentTransaction
}

type dispatchResult struct {
	duplicate   bool
	transaction *models.PaymentTransaction
}

// WebhookService runs the delivery pipeline for gateway callbacks: duplicate
// detection, signature verification, payload decoding, and dispatch into the
// payment recorder, with bounded in-process retries around transient
// failures. Every delivery leaves a row in webhook_retry_log.
type WebhookService struct {
	gateways *gateway.Registry
	payments *PaymentService
	repo     repository.BillingRepositoryInterface
	cache    *redis.Client
	config   *config.Config
}

// NewWebhookService creates a new webhook service. The cache client is
// optional; without it duplicate detection falls through to the database.
func NewWebhookService(gateways *gateway.Registry, payments *PaymentService, repo repository.BillingRepositoryInterface, cache *redis.Client, cfg *config.Config) *WebhookService {
	return &WebhookService{
		gateways: gateways,
		payments: payments,
		repo:     repo,
		cache:    cache,
		config:   cfg,
	}
}

// Process runs one webhook delivery through the pipeline and reports its
// outcome. Success and duplicate outcomes mean the gateway should stop
// redelivering; a returned error means every attempt failed and the caller
// should answer with a server error so the gateway retries later.
func (s *WebhookService) Process(ctx context.Context, gatewayID string, payload []byte, signature string) (*WebhookOutcome, error) {
	adapter, err := s.gateways.Get(gatewayID)
	if err != nil {
		return nil, err
	}

	// Duplicate detection happens before any verification so replayed
	// deliveries are acknowledged without spending retry attempts.
	probedRef := probeTransactionRef(gatewayID, payload)
	if probedRef != "" {
		if recorded, existing := s.alreadyRecorded(ctx, probedRef); recorded {
			outcome := &WebhookOutcome{
				Outcome:               models.WebhookOutcomeDuplicate,
				GatewayTransactionRef: probedRef,
				Transaction:           existing,
			}
			s.writeLog(ctx, gatewayID, probedRef, "", payload, outcome, nil)
			logrus.WithFields(logrus.Fields{
				"gateway_id":  gatewayID,
				"gateway_ref": probedRef,
			}).Info("Webhook delivery is a duplicate; acknowledged without processing")
			return outcome, nil
		}
	}

	var (
		lastErr    error
		result     *dispatchResult
		externalID string
		attempts   int
	)
	for attempt := 1; attempt <= s.config.WebhookMaxAttempts; attempt++ {
		attempts = attempt
		var decoded *gateway.WebhookPayload
		result, decoded, lastErr = s.attempt(ctx, adapter, payload, signature)
		if decoded != nil {
			externalID = decoded.ExternalID
			if decoded.GatewayTransactionRef != "" {
				probedRef = decoded.GatewayTransactionRef
			}
		}
		if lastErr == nil {
			break
		}

		if !isRetryableWebhookError(lastErr) {
			logrus.WithFields(logrus.Fields{
				"gateway_id": gatewayID,
				"attempt":    attempt,
			}).WithError(lastErr).Warn("Webhook processing failed permanently")
			break
		}
		if attempt == s.config.WebhookMaxAttempts {
			break
		}

		delay := s.config.WebhookRetryDelays[attempt-1]
		logrus.WithFields(logrus.Fields{
			"gateway_id": gatewayID,
			"attempt":    attempt,
			"retry_in":   delay.String(),
		}).WithError(lastErr).Warn("Webhook processing failed; will retry")
		if !sleepCtx(ctx, delay) {
			lastErr = ctx.Err()
			break
		}
	}

	outcome := &WebhookOutcome{
		GatewayTransactionRef: probedRef,
		Attempts:              attempts,
	}
	if lastErr != nil {
		outcome.Outcome = models.WebhookOutcomeFailed
		s.writeLog(ctx, gatewayID, probedRef, externalID, payload, outcome, lastErr)
		return outcome, lastErr
	}

	outcome.Outcome = models.WebhookOutcomeSuccess
	if result != nil {
		outcome.Transaction = result.transaction
		if result.duplicate {
			outcome.Outcome = models.WebhookOutcomeDuplicate
		}
		if result.transaction != nil {
			outcome.GatewayTransactionRef = result.transaction.GatewayTransactionRef
			s.markRecorded(ctx, result.transaction.GatewayTransactionRef)
		}
	}
	s.writeLog(ctx, gatewayID, outcome.GatewayTransactionRef, externalID, payload, outcome, nil)

	logrus.WithFields(logrus.Fields{
		"gateway_id":  gatewayID,
		"gateway_ref": outcome.GatewayTransactionRef,
		"outcome":     outcome.Outcome,
		"attempts":    attempts,
	}).Info("Webhook delivery processed")
	return outcome, nil
}

// attempt runs one verify-decode-dispatch cycle.
func (s *WebhookService) attempt(ctx context.Context, adapter gateway.PaymentGateway, payload []byte, signature string) (*dispatchResult, *gateway.WebhookPayload, error) {
	if err := adapter.VerifyWebhook(payload, signature); err != nil {
		return nil, nil, err
	}
	decoded, err := adapter.ProcessWebhook(ctx, payload)
	if err != nil {
		return nil, nil, err
	}
	result, err := s.dispatch(ctx, adapter.Name(), decoded)
	return result, decoded, err
}

// dispatch routes a decoded gateway event to the right mutation.
func (s *WebhookService) dispatch(ctx context.Context, gatewayID string, p *gateway.WebhookPayload) (*dispatchResult, error) {
	switch p.EventType {
	case gateway.WebhookPaymentCompleted:
		return s.dispatchCompleted(ctx, gatewayID, p)

	case gateway.WebhookPaymentFailed:
		invoiceID, _, err := s.resolveTarget(ctx, gatewayID, p)
		if err != nil {
			return nil, err
		}
		if _, err := s.payments.MarkInvoiceFailed(ctx, invoiceID); err != nil {
			return nil, err
		}
		return &dispatchResult{}, nil

	case gateway.WebhookPaymentExpired:
		invoiceID, _, err := s.resolveTarget(ctx, gatewayID, p)
		if err != nil {
			return nil, err
		}
		if _, err := s.payments.MarkInvoiceExpired(ctx, invoiceID); err != nil {
			return nil, err
		}
		return &dispatchResult{}, nil

	case gateway.WebhookPaymentPending:
		logrus.WithFields(logrus.Fields{
			"gateway_id":  gatewayID,
			"external_id": p.ExternalID,
			"raw_status":  p.RawStatus,
		}).Info("Pending payment event acknowledged")
		return &dispatchResult{}, nil

	default:
		logrus.WithFields(logrus.Fields{
			"gateway_id": gatewayID,
			"raw_status": p.RawStatus,
		}).Warn("Unrecognized webhook event type acknowledged and ignored")
		return &dispatchResult{}, nil
	}
}

func (s *WebhookService) dispatchCompleted(ctx context.Context, gatewayID string, p *gateway.WebhookPayload) (*dispatchResult, error) {
	if p.GatewayTransactionRef == "" {
		return nil, ierr.NewError("missing transaction reference").
			WithHint("Completed payment event carries no gateway transaction reference").
			Mark(ierr.ErrValidation)
	}

	invoiceID, installmentNumber, err := s.resolveTarget(ctx, gatewayID, p)
	if err != nil {
		return nil, err
	}

	input := &RecordPaymentInput{
		GatewayTransactionRef: p.GatewayTransactionRef,
		GatewayID:             gatewayID,
		AmountPaid:            p.AmountPaid,
		Currency:              p.Currency,
		PaymentMethod:         p.PaymentMethod,
		RawResponse:           p.RawResponse,
	}

	var result *RecordResult
	if installmentNumber > 0 {
		result, err = s.payments.RecordInstallmentPayment(ctx, invoiceID, installmentNumber, input)
	} else {
		result, err = s.payments.RecordPayment(ctx, invoiceID, input)
	}
	if err != nil {
		return nil, err
	}
	return &dispatchResult{duplicate: result.Duplicate, transaction: result.Transaction}, nil
}

// resolveTarget maps a decoded event to the invoice it belongs to, and to an
// installment number when the external ID marks an installment payment. The
// database owns the mapping; the external ID only hints at the format.
func (s *WebhookService) resolveTarget(ctx context.Context, gatewayID string, p *gateway.WebhookPayload) (uuid.UUID, int, error) {
	if _, number, ok := gateway.ParseInstallmentExternalID(p.ExternalID); ok {
		inst, err := s.repo.FindInstallmentByGatewayRef(ctx, gatewayID, p.GatewayReference)
		if err == nil {
			if inst.InstallmentNumber != number {
				logrus.WithFields(logrus.Fields{
					"gateway_id":  gatewayID,
					"external_id": p.ExternalID,
					"parsed":      number,
					"actual":      inst.InstallmentNumber,
					"installment": inst.ID,
				}).Warn("External ID installment number disagrees with recorded schedule")
			}
			return inst.InvoiceID, inst.InstallmentNumber, nil
		}
		if !ierr.IsNotFound(err) {
			return uuid.Nil, 0, err
		}
	}

	invoice, err := s.repo.FindInvoiceByGatewayRef(ctx, gatewayID, p.GatewayReference)
	if err != nil {
		return uuid.Nil, 0, err
	}
	return invoice.ID, 0, nil
}

// alreadyRecorded reports whether the gateway reference is already in the
// ledger. The cache answers without a database roundtrip; misses consult the
// transactions table, which is authoritative.
func (s *WebhookService) alreadyRecorded(ctx context.Context, gatewayRef string) (bool, *models.PaymentTransaction) {
	if s.cache != nil {
		n, err := s.cache.Exists(ctx, webhookRefKeyPrefix+gatewayRef).Result()
		if err == nil && n > 0 {
			return true, nil
		}
		if err != nil {
			logrus.WithError(err).Debug("Webhook dedupe cache lookup failed; falling back to database")
		}
	}

	existing, err := s.repo.GetTransactionByGatewayRef(ctx, gatewayRef)
	if err != nil {
		if !ierr.IsNotFound(err) {
			logrus.WithError(err).Warn("Webhook dedupe lookup failed; continuing with full processing")
		}
		return false, nil
	}
	s.markRecorded(ctx, gatewayRef)
	return true, existing
}

func (s *WebhookService) markRecorded(ctx context.Context, gatewayRef string) {
	if s.cache == nil || gatewayRef == "" {
		return
	}
	if err := s.cache.Set(ctx, webhookRefKeyPrefix+gatewayRef, 1, webhookRefCacheTTL).Err(); err != nil {
		logrus.WithError(err).Debug("Webhook dedupe cache write failed")
	}
}

// writeLog appends the delivery outcome to webhook_retry_log. Audit writes
// never fail the pipeline.
func (s *WebhookService) writeLog(ctx context.Context, gatewayID, gatewayRef, externalID string, payload []byte, outcome *WebhookOutcome, procErr error) {
	metrics.WebhooksProcessed.WithLabelValues(gatewayID, outcome.Outcome).Inc()

	entry := &models.WebhookRetryLog{
		GatewayID:             gatewayID,
		GatewayTransactionRef: gatewayRef,
		ExternalID:            externalID,
		Attempts:              outcome.Attempts,
		Outcome:               outcome.Outcome,
	}
	if procErr != nil {
		entry.LastError = procErr.Error()
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err == nil {
		entry.Payload = models.JSONB(raw)
	} else {
		entry.Payload = models.JSONB{"raw": string(payload)}
	}
	if err := s.repo.CreateWebhookLog(ctx, entry); err != nil {
		logrus.WithError(err).Error("Failed to write webhook delivery log")
	}
}

// probeTransactionRef extracts the gateway transaction reference from the raw
// payload without verifying it, for duplicate detection only. Unknown shapes
// return empty and the pipeline proceeds normally.
func probeTransactionRef(gatewayID string, payload []byte) string {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ""
	}
	str := func(m map[string]interface{}, key string) string {
		v, _ := m[key].(string)
		return v
	}
	child := func(m map[string]interface{}, key string) map[string]interface{} {
		v, _ := m[key].(map[string]interface{})
		return v
	}

	switch gatewayID {
	case models.GatewayXendit:
		return str(raw, "id")
	case models.GatewayMidtrans:
		return str(raw, "transaction_id")
	case models.GatewayStripe:
		if obj := child(child(raw, "data"), "object"); obj != nil {
			if ref := str(obj, "payment_intent"); ref != "" {
				return ref
			}
			return str(obj, "id")
		}
	case models.GatewayRazorpay:
		if entity := child(child(child(raw, "payload"), "payment"), "entity"); entity != nil {
			return str(entity, "id")
		}
		if entity := child(child(child(raw, "payload"), "payment_link"), "entity"); entity != nil {
			return str(entity, "id")
		}
	}
	return ""
}

// isRetryableWebhookError classifies processing failures. Validation, lookup,
// and conflict failures are deterministic and retrying cannot change them;
// everything else, including signature rejections and transport faults, gets
// the full retry schedule.
func isRetryableWebhookError(err error) bool {
	return !(ierr.IsValidation(err) || ierr.IsNotFound(err) || ierr.IsConflict(err))
}

// sleepCtx waits for the delay or until the context ends. It reports false
// when the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
