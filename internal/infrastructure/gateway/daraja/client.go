// Package daraja reaches the M-PESA Daraja API: OAuth tokens, STK push and
// STK push status queries.
package daraja

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	apppay "github.com/Simply-Furaha/App/internal/application/payment"
	dompay "github.com/Simply-Furaha/App/internal/domain/payment"
	"github.com/Simply-Furaha/App/internal/observability"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"

	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	defaultTransactionType = "CustomerPayBillOnline"
	timestampLayout        = "20060102150405"
	tokenSafetyMargin      = 60 * time.Second
	maxReferenceLen        = 12
	maxDescriptionLen      = 20
	maxErrorBody           = 4 << 10

	// the query endpoint answers with this error code until the payer acts
	stillProcessingCode = "500.001.1001"
)

var (
	ErrMissingCredentials = errors.New("daraja: consumer key and secret are required")
	ErrMissingShortCode   = errors.New("daraja: short code, pass key and callback url are required")
	ErrFractionalAmount   = errors.New("daraja: amount must be a whole number of shillings")
)

// Options configures the Daraja client.
type Options struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	CallbackURL     string
	TransactionType string
	HTTPClient      *http.Client
	RequestTimeout  time.Duration
	Now             func() time.Time
	Logger          observability.Logger
}

// Client implements the payment gateway port against Daraja.
type Client struct {
	baseURL         string
	consumerKey     string
	consumerSecret  string
	shortCode       string
	passKey         string
	callbackURL     string
	transactionType string
	httpClient      *http.Client
	now             func() time.Time
	log             observability.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ apppay.Gateway = (*Client)(nil)

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.ConsumerKey) == "" || strings.TrimSpace(opts.ConsumerSecret) == "" {
		return nil, ErrMissingCredentials
	}
	if opts.ShortCode == "" || opts.PassKey == "" || opts.CallbackURL == "" {
		return nil, ErrMissingShortCode
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = SandboxBaseURL
	}
	txType := opts.TransactionType
	if txType == "" {
		txType = defaultTransactionType
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Client{
		baseURL:         baseURL,
		consumerKey:     strings.TrimSpace(opts.ConsumerKey),
		consumerSecret:  strings.TrimSpace(opts.ConsumerSecret),
		shortCode:       opts.ShortCode,
		passKey:         opts.PassKey,
		callbackURL:     opts.CallbackURL,
		transactionType: txType,
		httpClient:      httpClient,
		now:             now,
		log:             logger.With(observability.F("component", "daraja_client")),
	}, nil
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

type pushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type pushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type queryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type queryResponse struct {
	ResponseCode        string      `json:"ResponseCode"`
	ResponseDescription string      `json:"ResponseDescription"`
	MerchantRequestID   string      `json:"MerchantRequestID"`
	CheckoutRequestID   string      `json:"CheckoutRequestID"`
	ResultCode          json.Number `json:"ResultCode"`
	ResultDesc          string      `json:"ResultDesc"`
}

type errorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// APIError is a non-2xx answer from Daraja.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daraja: http %d", e.Status)
	}
	return e.Message
}

// Initiate sends an STK push prompting the payer for their PIN.
func (c *Client) Initiate(ctx context.Context, req apppay.InitiateRequest) (*apppay.InitiateResponse, error) {
	if !req.Amount.Equal(req.Amount.Truncate(0)) {
		return nil, ErrFractionalAmount
	}
	password, timestamp := c.password()
	payload := pushRequest{
		BusinessShortCode: c.shortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   c.transactionType,
		Amount:            req.Amount.IntPart(),
		PartyA:            req.PhoneNumber,
		PartyB:            c.shortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       c.callbackURL,
		AccountReference:  truncate(req.Reference, maxReferenceLen),
		TransactionDesc:   truncate(req.Description, maxDescriptionLen),
	}

	var out pushResponse
	if err := c.post(ctx, pushPath, payload, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		msg := out.ResponseDescription
		if msg == "" {
			msg = "STK push failed"
		}
		return nil, errors.New(msg)
	}

	instructions := []string{"Check your phone for the M-PESA prompt", "Enter your M-PESA PIN to complete the payment"}
	if out.CustomerMessage != "" {
		instructions = append([]string{out.CustomerMessage}, instructions[1:]...)
	}
	return &apppay.InitiateResponse{
		CorrelationID:     out.CheckoutRequestID,
		MerchantRequestID: out.MerchantRequestID,
		Instructions:      instructions,
	}, nil
}

// QueryStatus asks Daraja how the push identified by correlationID ended.
// A request the payer has not answered yet reads as pending.
func (c *Client) QueryStatus(ctx context.Context, correlationID string) (dompay.Outcome, error) {
	password, timestamp := c.password()
	var out queryResponse
	err := c.post(ctx, queryPath, queryRequest{
		BusinessShortCode: c.shortCode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: correlationID,
	}, &out)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == stillProcessingCode {
		return dompay.Outcome{Status: dompay.GatewayPending}, nil
	}
	if err != nil {
		return dompay.Outcome{}, err
	}
	return outcomeOf(out), nil
}

func outcomeOf(out queryResponse) dompay.Outcome {
	switch out.ResultCode.String() {
	case "":
		return dompay.Outcome{Status: dompay.GatewayPending}
	case "0":
		return dompay.Outcome{Status: dompay.GatewaySuccess}
	case "4999":
		// still under processing on the gateway side
		return dompay.Outcome{Status: dompay.GatewayPending}
	default:
		reason := out.ResultDesc
		if reason == "" {
			reason = "payment failed with result code " + out.ResultCode.String()
		}
		return dompay.Outcome{Status: dompay.GatewayFailed, FailureReason: reason}
	}
}

// password is base64(shortcode + passkey + timestamp) in Nairobi time.
func (c *Client) password() (string, string) {
	timestamp := c.now().In(nairobi).Format(timestampLayout)
	raw := c.shortCode + c.passKey + timestamp
	return base64.StdEncoding.EncodeToString([]byte(raw)), timestamp
}

var nairobi = time.FixedZone("EAT", 3*60*60)

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("daraja: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("daraja: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daraja: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("daraja: decode response: %w", err)
	}
	return nil
}

// accessToken returns the cached OAuth token, fetching a new one a minute
// before the old one expires.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("daraja: build token request: %w", err)
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("daraja: token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("daraja: decode token: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("daraja: empty access token")
	}
	ttl, err := out.ExpiresIn.Int64()
	if err != nil || ttl <= 0 {
		ttl = 3599
	}

	c.token = out.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(ttl)*time.Second - tokenSafetyMargin)
	c.log.Debug("daraja_token_refreshed", observability.F("expires_in", ttl))
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode}
	var body errorResponse
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Code = body.ErrorCode
		apiErr.Message = body.ErrorMessage
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
