package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rental-payments-backend/internal/domain"
)

// fakeOmise replays the first response for a repeated Idempotency-Key, the way the processor does
type fakeOmise struct {
	mu       sync.Mutex
	created  int
	posts    int
	keys     []string
	byKey    map[string][]byte
	bodies   []map[string]interface{}
	stallKey string
}

func newFakeOmise() *fakeOmise {
	return &fakeOmise{byKey: make(map[string][]byte)}
}

func (f *fakeOmise) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	key := r.Header.Get(headerIdempotencyKey)

	f.mu.Lock()
	f.posts++
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, body)
	if prior, ok := f.byKey[key]; ok && key != "" {
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(prior)
		return
	}
	f.created++
	var resp []byte
	switch {
	case r.URL.Path == "/transfers":
		resp, _ = json.Marshal(map[string]interface{}{
			"object": "transfer", "id": "trsf_test_1", "amount": body["amount"], "recipient": body["recipient"],
		})
	case r.URL.Path == "/charges/chrg_test_1/refunds":
		resp, _ = json.Marshal(map[string]interface{}{
			"object": "refund", "id": "rfnd_test_1", "amount": body["amount"], "charge": "chrg_test_1",
		})
	case r.URL.Path == "/charges/chrg_test_1/capture":
		resp, _ = json.Marshal(map[string]interface{}{
			"object": "charge", "id": "chrg_test_1", "amount": 5000, "authorized": true, "paid": true, "status": "successful",
		})
	default:
		f.mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"object":"error","location":"","code":"not_found","message":"not found"}`))
		return
	}
	if key != "" {
		f.byKey[key] = resp
	}
	stall := key != "" && key == f.stallKey
	f.stallKey = ""
	f.mu.Unlock()

	if stall {
		time.Sleep(200 * time.Millisecond)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

func newTestOmiseGateway(t *testing.T, srv *httptest.Server) *omiseGateway {
	t.Helper()
	gw, err := NewOmiseGateway(OmiseConfig{
		PublicKey: "pkey_test_123",
		SecretKey: "skey_test_123",
		Currency:  "thb",
		Timeout:   50 * time.Millisecond,
		Limits:    testLimits,
	})
	require.NoError(t, err)
	og := gw.(*omiseGateway)
	og.client.Endpoints["https://api.omise.co"] = srv.URL
	return og
}

func TestOmiseTransfer_RetryAfterTimeoutCreatesOnce(t *testing.T) {
	fake := newFakeOmise()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	g := newTestOmiseGateway(t, srv)

	req := TransferRequest{
		AmountCents:     9800,
		PayeeAccountRef: "recp_lender",
		TransactionID:   "tx-1",
		IdempotencyKey:  IdempotencyKey("tx-1", "payout"),
	}
	fake.stallKey = req.IdempotencyKey

	_, err := g.Transfer(context.Background(), req)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	res, err := g.Transfer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "trsf_test_1", res.Ref)
	assert.Equal(t, int64(9800), res.AmountCents)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 2, fake.posts)
	assert.Equal(t, 1, fake.created)
	assert.Equal(t, []string{"tx-1:payout", "tx-1:payout"}, fake.keys)
}

func TestOmiseRefund_SendsKeyHeaderAndMetadata(t *testing.T) {
	fake := newFakeOmise()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	g := newTestOmiseGateway(t, srv)

	amount := int64(4000)
	key := IdempotencyKey("tx-1", "refund-deposit-4000")
	first, err := g.Refund(context.Background(), "chrg_test_1", &amount, key)
	require.NoError(t, err)
	second, err := g.Refund(context.Background(), "chrg_test_1", &amount, key)
	require.NoError(t, err)

	assert.Equal(t, first.Ref, second.Ref)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1, fake.created)
	assert.Equal(t, []string{key, key}, fake.keys)
	meta, ok := fake.bodies[0]["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, key, meta[MetaIdempotencyKey])
}

func TestOmiseCapture_DistinctKeysPerOperation(t *testing.T) {
	fake := newFakeOmise()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	g := newTestOmiseGateway(t, srv)

	auth, err := g.Capture(context.Background(), "chrg_test_1", IdempotencyKey("tx-1", "capture"))
	require.NoError(t, err)
	assert.Equal(t, AuthStateCaptured, auth.State)

	amount := int64(1000)
	_, err = g.Refund(context.Background(), "chrg_test_1", &amount, IdempotencyKey("tx-1", "refund-deposit-1000"))
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 2, fake.created)
	assert.Equal(t, []string{"tx-1:capture", "tx-1:refund-deposit-1000"}, fake.keys)
}

func TestOmiseSend_APIErrorMapsToGatewayError(t *testing.T) {
	fake := newFakeOmise()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	g := newTestOmiseGateway(t, srv)

	_, err := g.Capture(context.Background(), "chrg_missing", IdempotencyKey("tx-2", "capture"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrGateway))
	assert.False(t, IsTimeout(err))
	assert.Contains(t, err.Error(), "not_found")
}
