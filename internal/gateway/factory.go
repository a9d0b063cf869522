package gateway

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"billing-service/internal/config"
	ierr "billing-service/internal/errors"
	"billing-service/internal/models"
)

// Registry holds the configured gateway adapters keyed by gateway id
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]PaymentGateway
}

// NewRegistry creates an empty gateway registry
func NewRegistry() *Registry {
	return &Registry{
		gateways: make(map[string]PaymentGateway),
	}
}

// Register adds a gateway adapter to the registry
func (r *Registry) Register(gw PaymentGateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[gw.Name()] = gw
}

// Get returns the adapter for a gateway id
func (r *Registry) Get(gatewayID string) (PaymentGateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[gatewayID]
	if !ok {
		return nil, ierr.NewError("unsupported gateway").
			WithHintf("Payment gateway %q is not configured", gatewayID).
			Mark(ierr.ErrNotFound)
	}
	return gw, nil
}

// List returns the registered gateway ids, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.gateways))
	for id := range r.gateways {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BuildRegistry constructs adapters for every active gateway whose credentials
// are present. Gateways without credentials are skipped so a deployment can
// run against a subset of providers.
func BuildRegistry(cfg *config.Config, configs []models.PaymentGatewayConfig) *Registry {
	reg := NewRegistry()

	for i := range configs {
		gc := &configs[i]
		if !gc.IsActive {
			continue
		}
		currencies := []string(gc.SupportedCurrencies)

		var (
			gw  PaymentGateway
			err error
		)
		switch gc.GatewayID {
		case models.GatewayXendit:
			if cfg.XenditAPIKey == "" {
				logrus.Warnf("Skipping gateway %s: XENDIT_API_KEY not set", gc.GatewayID)
				continue
			}
			gw, err = NewXenditGateway(cfg.XenditAPIKey, cfg.XenditWebhookSecret, cfg.XenditBaseURL, currencies)
		case models.GatewayMidtrans:
			if cfg.MidtransServerKey == "" {
				logrus.Warnf("Skipping gateway %s: MIDTRANS_SERVER_KEY not set", gc.GatewayID)
				continue
			}
			gw, err = NewMidtransGateway(cfg.MidtransServerKey, cfg.MidtransWebhookSecret, cfg.MidtransBaseURL, currencies)
		case models.GatewayStripe:
			if cfg.StripeSecretKey == "" {
				logrus.Warnf("Skipping gateway %s: STRIPE_SECRET_KEY not set", gc.GatewayID)
				continue
			}
			gw, err = NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, currencies)
		case models.GatewayRazorpay:
			if cfg.RazorpayKeyID == "" || cfg.RazorpayKeySecret == "" {
				logrus.Warnf("Skipping gateway %s: RAZORPAY_KEY_ID/RAZORPAY_KEY_SECRET not set", gc.GatewayID)
				continue
			}
			gw, err = NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret, currencies)
		default:
			logrus.Warnf("Skipping unknown gateway %s", gc.GatewayID)
			continue
		}

		if err != nil {
			logrus.WithError(err).Warnf("Failed to initialize gateway %s", gc.GatewayID)
			continue
		}
		reg.Register(gw)
	}

	return reg
}
