package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pedix/internal/audit"
	"pedix/internal/domain"
	"pedix/internal/lock"
	"pedix/internal/logger"
	"pedix/internal/models"
	"pedix/internal/token"
	"pedix/pkg/gateway"
)

const DefaultLifetime = 15 * time.Minute

type CreateInput struct {
	OrderID     string          `json:"order_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CustomerID  string          `json:"customer_id"`
	MerchantID  string          `json:"merchant_id"`
	CourierID   string          `json:"courier_id"`
}

type ServiceConfig struct {
	Lifetime  time.Duration
	Currency  string
	PublicKey string
}

// QRHost stores a base64 QR image somewhere clients can fetch it and returns the URL.
type QRHost interface {
	HostQR(ctx context.Context, orderID, pngBase64 string) (string, error)
}

// StatusCache holds terminal statuses for cheap polling. Claim marks requestID as the
// order's current request; terminal statuses of any other request are then ignored.
type StatusCache interface {
	Status(ctx context.Context, orderID string) (domain.PaymentStatus, bool)
	Claim(ctx context.Context, orderID, requestID string)
}

type PublicConfig struct {
	PublicKey string `json:"public_key"`
}

// Service is the caller-facing side: create, read, cancel and wait.
type Service struct {
	m       *Machine
	gateway gateway.Client
	tokens  *token.Issuer
	cfg     ServiceConfig
	orders  *lock.Keyed

	qrHost    QRHost
	cache     StatusCache
	scheduler *ExpiryScheduler
}

func NewService(m *Machine, gw gateway.Client, tokens *token.Issuer, cfg ServiceConfig) *Service {
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultLifetime
	}
	if cfg.Currency == "" {
		cfg.Currency = "BRL"
	}
	return &Service{m: m, gateway: gw, tokens: tokens, cfg: cfg, orders: lock.NewKeyed()}
}

func (s *Service) SetQRHost(h QRHost)                { s.qrHost = h }
func (s *Service) SetStatusCache(c StatusCache)      { s.cache = c }
func (s *Service) SetScheduler(sch *ExpiryScheduler) { s.scheduler = sch }

func (s *Service) Lifetime() time.Duration { return s.cfg.Lifetime }

func (s *Service) PublicConfig() PublicConfig {
	return PublicConfig{PublicKey: s.cfg.PublicKey}
}

func validateCreate(in CreateInput) error {
	switch {
	case in.OrderID == "":
		return &domain.ValidationError{Field: "order_id", Message: "is required"}
	case len(in.OrderID) > 64:
		return &domain.ValidationError{Field: "order_id", Message: "must be at most 64 characters"}
	case !in.Amount.IsPositive():
		return &domain.ValidationError{Field: "amount", Message: "must be positive"}
	case !in.Amount.Equal(in.Amount.Round(2)):
		return &domain.ValidationError{Field: "amount", Message: "must have at most two decimal places"}
	case len(in.Description) > 255:
		return &domain.ValidationError{Field: "description", Message: "must be at most 255 characters"}
	}
	return nil
}

// Create returns the order's PENDING request if one is still live, otherwise opens a new
// request and its gateway instrument.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.PaymentRequest, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}
	unlock := s.orders.Lock(in.OrderID)
	defer unlock()

	latest, err := s.m.store.Get(ctx, in.OrderID)
	if err == nil && latest.Status == string(domain.StatusApproved) {
		return nil, &domain.ConflictError{Message: fmt.Sprintf("order %s is already paid", in.OrderID)}
	}

	// Each pass either returns or expires one stale request, so a couple of passes suffice.
	for attempt := 0; attempt < 3; attempt++ {
		now := s.m.Now()
		tok, err := s.tokens.Issue(in.OrderID)
		if err != nil {
			return nil, err
		}
		candidate := &models.PaymentRequest{
			ID:          uuid.NewString(),
			OrderID:     in.OrderID,
			Amount:      in.Amount,
			Currency:    s.cfg.Currency,
			Description: in.Description,
			Token:       tok,
			Status:      string(domain.StatusPending),
			Method:      domain.MethodGatewayQR,
			CustomerID:  in.CustomerID,
			MerchantID:  in.MerchantID,
			CourierID:   in.CourierID,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.cfg.Lifetime),
		}
		req, created, err := s.m.store.Create(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("create payment request: %w", err)
		}
		if created {
			if s.cache != nil {
				s.cache.Claim(ctx, in.OrderID, req.ID)
			}
			return s.openInstrument(ctx, req)
		}
		if !now.Before(req.ExpiresAt) {
			if _, err := s.m.expire(ctx, req, "create"); err != nil {
				return nil, err
			}
			continue
		}
		if !amountsMatch(req.Amount, in.Amount) {
			return nil, &domain.ConflictError{Message: fmt.Sprintf(
				"order %s already has a pending request for %s", in.OrderID, req.Amount.StringFixed(2))}
		}
		return req, nil
	}
	return nil, &domain.ConflictError{Message: fmt.Sprintf("order %s: could not open a payment request", in.OrderID)}
}

func (s *Service) openInstrument(ctx context.Context, req *models.PaymentRequest) (*models.PaymentRequest, error) {
	s.m.record(ctx, audit.Entry{
		Event:   domain.AuditRequestCreated,
		OrderID: req.OrderID,
		Metadata: map[string]interface{}{
			"request_id": req.ID,
			"amount":     req.Amount.StringFixed(2),
			"expires_at": req.ExpiresAt,
		},
	})

	inst, err := s.gateway.CreateInstrument(ctx, gateway.InstrumentRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		ExpiresAt:   req.ExpiresAt,
		Metadata: gateway.Metadata{
			OrderID:   req.OrderID,
			Token:     req.Token,
			Timestamp: req.CreatedAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		logger.S().Warnw("gateway_instrument_failed", "order_id", req.OrderID, "request_id", req.ID, "error", err)
		// Without an instrument the request can never be paid. Cancelling it lets a retry open a fresh one.
		if _, cerr := s.m.transition(ctx, req, domain.StatusCancelled, audit.Entry{
			Event:    domain.AuditInstrumentFailed,
			OrderID:  req.OrderID,
			Reason:   "gateway_error",
			Metadata: map[string]interface{}{"request_id": req.ID, "error": err.Error()},
		}); cerr != nil {
			logger.S().Errorw("payment_request_cancel_failed", "order_id", req.OrderID, "error", cerr)
		}
		return nil, &domain.ExternalGatewayError{Op: "create_instrument", Err: err}
	}

	imageURL := s.hostQR(ctx, req.OrderID, inst.QRImage)
	if err := s.m.store.SetInstrument(ctx, req.ID, inst.InstrumentID, inst.QRPayload, imageURL); err != nil {
		return nil, fmt.Errorf("store instrument: %w", err)
	}
	req.GatewayReferenceID = inst.InstrumentID
	req.QRPayload = inst.QRPayload
	req.QRImageURL = imageURL

	if s.scheduler != nil {
		s.scheduler.Schedule(req)
	}
	logger.S().Infow("payment_request_created", "order_id", req.OrderID, "request_id", req.ID,
		"amount", req.Amount.StringFixed(2), "expires_at", req.ExpiresAt)
	return req, nil
}

// hostQR prefers a hosted image and falls back to an inline data URI.
func (s *Service) hostQR(ctx context.Context, orderID, pngBase64 string) string {
	if pngBase64 == "" {
		return ""
	}
	if s.qrHost != nil {
		url, err := s.qrHost.HostQR(ctx, orderID, pngBase64)
		if err == nil {
			return url
		}
		logger.S().Warnw("qr_host_failed", "order_id", orderID, "error", err)
	}
	return "data:image/png;base64," + pngBase64
}

func (s *Service) Get(ctx context.Context, orderID string) (*models.PaymentRequest, error) {
	return s.m.Get(ctx, orderID)
}

// Status answers polls, from the terminal-status cache when it has the order.
func (s *Service) Status(ctx context.Context, orderID string) (domain.PaymentStatus, error) {
	if s.cache != nil {
		if st, ok := s.cache.Status(ctx, orderID); ok {
			return st, nil
		}
	}
	req, err := s.m.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	return domain.PaymentStatus(req.Status), nil
}

// Cancel is the explicit cancellation of a PENDING request.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (*models.PaymentRequest, error) {
	req, err := s.m.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if req.Status != string(domain.StatusPending) {
		return nil, &domain.ConflictError{Message: fmt.Sprintf("payment request for order %s is %s", orderID, req.Status)}
	}
	ok, err := s.m.transition(ctx, req, domain.StatusCancelled, audit.Entry{
		Event:    domain.AuditCancelled,
		OrderID:  orderID,
		Reason:   reason,
		Metadata: map[string]interface{}{"request_id": req.ID},
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		cur, err := s.m.store.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return nil, &domain.ConflictError{Message: fmt.Sprintf("payment request for order %s is %s", orderID, cur.Status)}
	}
	logger.S().Infow("payment_request_cancelled", "order_id", orderID, "request_id", req.ID, "reason", reason)
	return req, nil
}

// AwaitTerminal polls until the request is terminal, ctx ends, or the request lifetime
// elapses, whichever comes first. The last seen request is returned with ctx's error.
func (s *Service) AwaitTerminal(ctx context.Context, orderID string, interval time.Duration) (*models.PaymentRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Lifetime)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		req, err := s.m.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if domain.PaymentStatus(req.Status).Terminal() {
			return req, nil
		}
		select {
		case <-ctx.Done():
			return req, ctx.Err()
		case <-ticker.C:
		}
	}
}
