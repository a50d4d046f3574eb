package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/logger"
)

const processorOmise = "omise"

// headerIdempotencyKey makes the processor replay the first result for a repeated mutating call
const headerIdempotencyKey = "Idempotency-Key"

var tracer = otel.Tracer("rental-payments-backend/gateway")

// OmiseConfig holds processor credentials and policy
type OmiseConfig struct {
	PublicKey string
	SecretKey string
	Currency  string
	ReturnURI string
	Timeout   time.Duration
	Limits    Limits
}

type omiseGateway struct {
	client *omise.Client
	cfg    OmiseConfig
}

// NewOmiseGateway creates a Gateway backed by the Omise API
func NewOmiseGateway(cfg OmiseConfig) (Gateway, error) {
	c, err := omise.NewClient(cfg.PublicKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create omise client: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &omiseGateway{client: c, cfg: cfg}, nil
}

func (g *omiseGateway) Name() string { return processorOmise }

func (g *omiseGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error) {
	if err := g.cfg.Limits.CheckCharge(req.AmountCents); err != nil {
		return nil, err
	}
	if req.CustomerRef == "" {
		return nil, domain.Validation("customer reference is required")
	}

	ctx, span := tracer.Start(ctx, "gateway.authorize")
	defer span.End()
	span.SetAttributes(
		attribute.String("transaction.id", req.TransactionID),
		attribute.Int64("amount_cents", req.AmountCents),
		attribute.Bool("manual_capture", req.ManualCapture),
	)

	logger.GatewayCall(processorOmise, "CreateCharge", "transactionID", req.TransactionID, "amount", req.AmountCents, "manualCapture", req.ManualCapture)

	ch := &omise.Charge{}
	op := &operations.CreateCharge{
		Customer:    req.CustomerRef,
		Amount:      req.AmountCents,
		Currency:    g.cfg.Currency,
		DontCapture: req.ManualCapture,
		ReturnURI:   g.cfg.ReturnURI,
		Description: req.Description,
		Metadata: map[string]interface{}{
			MetaTransactionID:  req.TransactionID,
			MetaPurpose:        string(req.Purpose),
			MetaIdempotencyKey: req.IdempotencyKey,
		},
	}
	err := g.send(ctx, ch, req.IdempotencyKey, func() (*http.Request, error) { return g.client.Request(op) })
	logger.GatewayResult(processorOmise, "CreateCharge", err, "transactionID", req.TransactionID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	auth := toAuthorization(ch)
	span.SetAttributes(attribute.String("charge.id", auth.Ref), attribute.String("charge.state", string(auth.State)))
	if auth.State == AuthStateFailed {
		return auth, fmt.Errorf("%w: charge %s failed: %s", domain.ErrGateway, ch.ID, auth.FailureReason)
	}
	return auth, nil
}

func (g *omiseGateway) GetAuthorization(ctx context.Context, ref string) (*Authorization, error) {
	ctx, span := tracer.Start(ctx, "gateway.get_authorization")
	defer span.End()
	span.SetAttributes(attribute.String("charge.id", ref))

	ch := &omise.Charge{}
	err := g.call(ctx, func() error { return g.client.Do(ch, &operations.RetrieveCharge{ChargeID: ref}) })
	logger.GatewayResult(processorOmise, "RetrieveCharge", err, "chargeID", ref)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return toAuthorization(ch), nil
}

func (g *omiseGateway) Capture(ctx context.Context, ref, idempotencyKey string) (*Authorization, error) {
	ctx, span := tracer.Start(ctx, "gateway.capture")
	defer span.End()
	span.SetAttributes(attribute.String("charge.id", ref), attribute.String("idempotency_key", idempotencyKey))

	logger.GatewayCall(processorOmise, "CaptureCharge", "chargeID", ref, "idempotencyKey", idempotencyKey)
	ch := &omise.Charge{}
	op := &operations.CaptureCharge{ChargeID: ref}
	err := g.send(ctx, ch, idempotencyKey, func() (*http.Request, error) { return g.client.Request(op) })
	logger.GatewayResult(processorOmise, "CaptureCharge", err, "chargeID", ref)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	auth := toAuthorization(ch)
	if auth.State != AuthStateCaptured {
		return auth, fmt.Errorf("%w: charge %s not captured, state %s", domain.ErrGateway, ref, auth.State)
	}
	return auth, nil
}

func (g *omiseGateway) Refund(ctx context.Context, ref string, amountCents *int64, idempotencyKey string) (*RefundResult, error) {
	if amountCents != nil {
		if err := g.cfg.Limits.CheckRefund(*amountCents); err != nil {
			return nil, err
		}
	}

	ctx, span := tracer.Start(ctx, "gateway.refund")
	defer span.End()
	span.SetAttributes(attribute.String("charge.id", ref), attribute.String("idempotency_key", idempotencyKey))

	amount := int64(0)
	if amountCents != nil {
		amount = *amountCents
	} else {
		// Full refund of the captured charge amount.
		ch := &omise.Charge{}
		err := g.call(ctx, func() error { return g.client.Do(ch, &operations.RetrieveCharge{ChargeID: ref}) })
		if err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		amount = ch.Amount
		if err := g.cfg.Limits.CheckRefund(amount); err != nil {
			return nil, err
		}
	}
	span.SetAttributes(attribute.Int64("amount_cents", amount))

	logger.GatewayCall(processorOmise, "CreateRefund", "chargeID", ref, "amount", amount, "idempotencyKey", idempotencyKey)
	refund := &omise.Refund{}
	op := &operations.CreateRefund{
		ChargeID: ref,
		Amount:   amount,
		Metadata: map[string]interface{}{MetaIdempotencyKey: idempotencyKey},
	}
	err := g.send(ctx, refund, idempotencyKey, func() (*http.Request, error) { return g.client.Request(op) })
	logger.GatewayResult(processorOmise, "CreateRefund", err, "chargeID", ref)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return &RefundResult{Ref: refund.ID, AmountCents: refund.Amount}, nil
}

func (g *omiseGateway) Release(ctx context.Context, ref, idempotencyKey string) error {
	ctx, span := tracer.Start(ctx, "gateway.release")
	defer span.End()
	span.SetAttributes(attribute.String("charge.id", ref), attribute.String("idempotency_key", idempotencyKey))

	logger.GatewayCall(processorOmise, "ReverseCharge", "chargeID", ref, "idempotencyKey", idempotencyKey)
	ch := &omise.Charge{}
	op := &operations.ReverseCharge{ChargeID: ref}
	err := g.send(ctx, ch, idempotencyKey, func() (*http.Request, error) { return g.client.Request(op) })
	logger.GatewayResult(processorOmise, "ReverseCharge", err, "chargeID", ref)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

func (g *omiseGateway) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if err := g.cfg.Limits.CheckCharge(req.AmountCents); err != nil {
		return nil, err
	}
	if req.PayeeAccountRef == "" {
		return nil, domain.Validation("payee account reference is required")
	}

	ctx, span := tracer.Start(ctx, "gateway.transfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("transaction.id", req.TransactionID),
		attribute.Int64("amount_cents", req.AmountCents),
	)

	logger.GatewayCall(processorOmise, "CreateTransfer", "transactionID", req.TransactionID, "amount", req.AmountCents)
	tr := &omise.Transfer{}
	op := &operations.CreateTransfer{
		Amount:    req.AmountCents,
		Recipient: req.PayeeAccountRef,
		Metadata: map[string]interface{}{
			MetaTransactionID:  req.TransactionID,
			MetaIdempotencyKey: req.IdempotencyKey,
		},
	}
	err := g.send(ctx, tr, req.IdempotencyKey, func() (*http.Request, error) { return g.client.Request(op) })
	logger.GatewayResult(processorOmise, "CreateTransfer", err, "transactionID", req.TransactionID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return &TransferResult{Ref: tr.ID, AmountCents: tr.Amount}, nil
}

func (g *omiseGateway) CreateCustomerIfAbsent(ctx context.Context, userID, email, existingRef string) (string, error) {
	if existingRef != "" {
		return existingRef, nil
	}

	ctx, span := tracer.Start(ctx, "gateway.create_customer")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	logger.GatewayCall(processorOmise, "CreateCustomer", "userID", userID)
	cust := &omise.Customer{}
	op := &operations.CreateCustomer{
		Email:       email,
		Description: "rental member " + userID,
		Metadata:    map[string]interface{}{MetaUserID: userID},
	}
	err := g.send(ctx, cust, IdempotencyKey(userID, "customer"), func() (*http.Request, error) { return g.client.Request(op) })
	logger.GatewayResult(processorOmise, "CreateCustomer", err, "userID", userID)
	if err != nil {
		recordSpanError(span, err)
		return "", err
	}
	return cust.ID, nil
}

// call bounds a blocking SDK call. A timeout means the outcome is unknown, so it is
// reported as ErrGatewayTimeout rather than a failure and must be settled by webhook.
func (g *omiseGateway) call(ctx context.Context, fn func() error) error {
	return callWithTimeout(ctx, g.cfg.Timeout, fn)
}

// send performs a prepared SDK request carrying its own idempotency header. The
// header is set per request since the client's custom headers are shared.
func (g *omiseGateway) send(ctx context.Context, result interface{}, idempotencyKey string, build func() (*http.Request, error)) error {
	return g.call(ctx, func() error {
		req, err := build()
		if err != nil {
			return err
		}
		if idempotencyKey != "" {
			req.Header.Set(headerIdempotencyKey, idempotencyKey)
		}

		resp, err := g.client.Client.Do(req.WithContext(ctx))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &omise.ErrTransport{Err: err, Buffer: body}
		}
		if resp.StatusCode != http.StatusOK {
			apiErr := &omise.Error{StatusCode: resp.StatusCode}
			if err := json.Unmarshal(body, apiErr); err != nil {
				return &omise.ErrTransport{Err: err, Buffer: body}
			}
			return apiErr
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(body, result); err != nil {
			return &omise.ErrTransport{Err: err, Buffer: body}
		}
		return nil
	})
}

func callWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrGateway, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: no response within %s", domain.ErrGatewayTimeout, timeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrGatewayTimeout, ctx.Err())
	}
}

func toAuthorization(ch *omise.Charge) *Authorization {
	auth := &Authorization{
		Ref:          ch.ID,
		AmountCents:  ch.Amount,
		AuthorizeURI: ch.AuthorizeURI,
		State:        chargeState(ch),
	}
	if ch.FailureMessage != nil {
		auth.FailureReason = *ch.FailureMessage
	} else if ch.FailureCode != nil {
		auth.FailureReason = *ch.FailureCode
	}
	if id, ok := ch.Metadata[MetaTransactionID].(string); ok {
		auth.TransactionID = id
	}
	return auth
}

func chargeState(ch *omise.Charge) AuthState {
	switch string(ch.Status) {
	case "failed":
		return AuthStateFailed
	case "reversed", "expired":
		return AuthStateReversed
	case "successful":
		return AuthStateCaptured
	}
	switch {
	case ch.Reversed:
		return AuthStateReversed
	case ch.Paid:
		return AuthStateCaptured
	case ch.Authorized:
		return AuthStateAuthorized
	case ch.AuthorizeURI != "":
		return AuthStateRequiresAction
	default:
		return AuthStatePending
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
