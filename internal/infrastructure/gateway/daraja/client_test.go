package daraja

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apppay "github.com/Simply-Furaha/App/internal/application/payment"
	dompay "github.com/Simply-Furaha/App/internal/domain/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDaraja struct {
	tokens atomic.Int32
	query  func(w http.ResponseWriter, req queryRequest)
	push   func(w http.ResponseWriter, req pushRequest)

	mu       sync.Mutex
	lastPush pushRequest
}

func (f *fakeDaraja) pushed() pushRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPush
}

func (f *fakeDaraja) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.tokens.Add(1)
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":"3599"}`))
	})
	mux.HandleFunc(pushPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		var req pushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.lastPush = req
		f.mu.Unlock()
		f.push(w, req)
	})
	mux.HandleFunc(queryPath, func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.query(w, req)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeDaraja) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	fixed := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	c, err := NewClient(Options{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		PassKey:        "pass",
		CallbackURL:    "https://example.com/callback",
		Now:            func() time.Time { return fixed },
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Options{ShortCode: "174379", PassKey: "p", CallbackURL: "u"})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = NewClient(Options{ConsumerKey: "k", ConsumerSecret: "s"})
	assert.ErrorIs(t, err, ErrMissingShortCode)
}

func TestInitiateSendsSignedPush(t *testing.T) {
	f := &fakeDaraja{push: func(w http.ResponseWriter, _ pushRequest) {
		_, _ = w.Write([]byte(`{"MerchantRequestID":"mr-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success. Request accepted for processing"}`))
	}}
	c := newTestClient(t, f)

	resp, err := c.Initiate(context.Background(), apppay.InitiateRequest{
		Target:      dompay.LoanRepaymentTarget("m1", 42),
		Amount:      decimal.NewFromInt(1500),
		PhoneNumber: "254712345678",
		Reference:   "LOAN42-EXTRA-LONG-REFERENCE",
		Description: "Loan repayment for a very long description",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", resp.CorrelationID)
	assert.Equal(t, "mr-1", resp.MerchantRequestID)
	assert.Equal(t, "Success. Request accepted for processing", resp.Instructions[0])

	push := f.pushed()
	assert.Equal(t, "20240501123000", push.Timestamp)
	wantPassword := base64.StdEncoding.EncodeToString([]byte("174379" + "pass" + "20240501123000"))
	assert.Equal(t, wantPassword, push.Password)
	assert.Equal(t, int64(1500), push.Amount)
	assert.Equal(t, "254712345678", push.PartyA)
	assert.Equal(t, "174379", push.PartyB)
	assert.Len(t, push.AccountReference, 12)
	assert.Len(t, push.TransactionDesc, 20)
	assert.Equal(t, "CustomerPayBillOnline", push.TransactionType)
}

func TestInitiateRejections(t *testing.T) {
	f := &fakeDaraja{push: func(w http.ResponseWriter, _ pushRequest) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"requestId":"r-1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PhoneNumber"}`))
	}}
	c := newTestClient(t, f)

	_, err := c.Initiate(context.Background(), apppay.InitiateRequest{Amount: decimal.NewFromInt(10), PhoneNumber: "254712345678"})
	require.Error(t, err)
	assert.Equal(t, "Bad Request - Invalid PhoneNumber", err.Error())

	_, err = c.Initiate(context.Background(), apppay.InitiateRequest{Amount: decimal.RequireFromString("10.50"), PhoneNumber: "254712345678"})
	assert.ErrorIs(t, err, ErrFractionalAmount)
}

func TestQueryStatusMapsResults(t *testing.T) {
	var answer atomic.Value
	f := &fakeDaraja{query: func(w http.ResponseWriter, req queryRequest) {
		assert.Equal(t, "ws_CO_1", req.CheckoutRequestID)
		answer.Load().(func(http.ResponseWriter))(w)
	}}
	c := newTestClient(t, f)

	cases := []struct {
		name   string
		answer func(w http.ResponseWriter)
		want   dompay.Outcome
	}{
		{
			name: "processing",
			answer: func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"requestId":"r","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`))
			},
			want: dompay.Outcome{Status: dompay.GatewayPending},
		},
		{
			name: "success",
			answer: func(w http.ResponseWriter) {
				_, _ = w.Write([]byte(`{"ResponseCode":"0","ResultCode":"0","ResultDesc":"The service request is processed successfully."}`))
			},
			want: dompay.Outcome{Status: dompay.GatewaySuccess},
		},
		{
			name: "cancelled",
			answer: func(w http.ResponseWriter) {
				_, _ = w.Write([]byte(`{"ResponseCode":"0","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`))
			},
			want: dompay.Outcome{Status: dompay.GatewayFailed, FailureReason: "Request cancelled by user"},
		},
		{
			name: "numeric result code",
			answer: func(w http.ResponseWriter) {
				_, _ = w.Write([]byte(`{"ResponseCode":"0","ResultCode":1037,"ResultDesc":"DS timeout user cannot be reached"}`))
			},
			want: dompay.Outcome{Status: dompay.GatewayFailed, FailureReason: "DS timeout user cannot be reached"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			answer.Store(tc.answer)
			got, err := c.QueryStatus(context.Background(), "ws_CO_1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
	assert.Equal(t, int32(1), f.tokens.Load())
}

func TestQueryStatusTransientError(t *testing.T) {
	f := &fakeDaraja{query: func(w http.ResponseWriter, _ queryRequest) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}}
	c := newTestClient(t, f)

	_, err := c.QueryStatus(context.Background(), "ws_CO_1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
}

func TestUnauthorizedDropsCachedToken(t *testing.T) {
	var calls atomic.Int32
	f := &fakeDaraja{query: func(w http.ResponseWriter, _ queryRequest) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"errorCode":"404.001.03","errorMessage":"Invalid Access Token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ResultCode":"0","ResultDesc":"ok"}`))
	}}
	c := newTestClient(t, f)

	_, err := c.QueryStatus(context.Background(), "ws_CO_1")
	require.Error(t, err)
	got, err := c.QueryStatus(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, dompay.GatewaySuccess, got.Status)
	assert.Equal(t, int32(2), f.tokens.Load())
}
