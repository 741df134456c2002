package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/blues/pes/internal/metrics"
	"github.com/shopspring/decimal"
)

// ErrPaymentNotConfigured 未配置支付服务
var ErrPaymentNotConfigured = errors.New("payment provider not configured")

// RefundInstruction 退款指令
type RefundInstruction struct {
	Reference  string          `json:"reference"`
	ProjectId  int64           `json:"project_id"`
	DisputeId  int64           `json:"dispute_id"`
	InvestorId string          `json:"investor_id"`
	Amount     decimal.Decimal `json:"amount"`
}

// Payment 支付方
type Payment interface {
	IssueRefund(ctx context.Context, instruction RefundInstruction) error
}

// HTTPPayment 调用支付服务的退款接口
type HTTPPayment struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPPayment 创建支付客户端
func NewHTTPPayment(baseURL, apiKey string, timeout time.Duration) *HTTPPayment {
	return &HTTPPayment{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// IssueRefund 发起退款，Reference 作为幂等键
func (p *HTTPPayment) IssueRefund(ctx context.Context, instruction RefundInstruction) (err error) {
	started := time.Now()
	defer func() { metrics.ObserveExternal("payment", started, err) }()

	if p.baseURL == "" {
		return ErrPaymentNotConfigured
	}
	return postJSON(ctx, p.client, p.baseURL+"/refunds", p.apiKey, instruction.Reference, instruction, nil)
}
