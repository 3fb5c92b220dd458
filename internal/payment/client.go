package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	stripeclient "github.com/stripe/stripe-go/v76/client"
)

// Client 基于 stripe-go 的网关实现。
type Client struct {
	api *stripeclient.API
}

// NewClient baseURL 为空时用 Stripe 官方地址；测试里指向本地 httptest。
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	cfg := &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: timeout},
		// 扣款只发一次，重试交给对账
		MaxNetworkRetries: stripe.Int64(0),
		EnableTelemetry:   stripe.Bool(false),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if baseURL = strings.TrimRight(baseURL, "/"); baseURL != "" {
		cfg.URL = stripe.String(baseURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}
	return &Client{api: stripeclient.New(apiKey, backends)}
}

// Charge 单次扣款，不做重试：重试可能重复扣款。
func (c *Client) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	params := &stripe.ChargeParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String(req.Description),
	}
	if err := params.SetSource(req.Source); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	ch, err := c.api.Charges.New(params)
	if err != nil {
		return "", classify(err)
	}
	if ch == nil || ch.ID == "" {
		// 2xx 但没有 id，无法确认是否扣款
		return "", fmt.Errorf("%w: empty charge id", ErrTransient)
	}
	return ch.ID, nil
}

func (c *Client) Refund(ctx context.Context, chargeID string) error {
	params := &stripe.RefundParams{Charge: stripe.String(chargeID)}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + chargeID)
	if _, err := c.api.Refunds.New(params); err != nil {
		return classify(err)
	}
	return nil
}

// classify 把 stripe-go 的错误归到三类：卡被拒 / 请求被拒 / 结果未知。
func classify(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		// 超时、断连、响应体无法解析
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	switch {
	case se.Type == stripe.ErrorTypeCard:
		return fmt.Errorf("%w: %s", ErrDeclined, se.Msg)
	case se.Type == stripe.ErrorTypeAPI, se.HTTPStatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status=%d %s", ErrTransient, se.HTTPStatusCode, se.Msg)
	default:
		return fmt.Errorf("%w: status=%d %s %s", ErrRejected, se.HTTPStatusCode, se.Type, se.Msg)
	}
}

// IsUnknownOutcome 调用方据此区分“确定未扣款”和“结果未知”。
func IsUnknownOutcome(err error) bool {
	return errors.Is(err, ErrTransient)
}
