package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/blues/pes/internal/logger"
	"github.com/blues/pes/internal/metrics"
	"github.com/blues/pes/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrUnsupportedMethod 没有对应的打款通道
var ErrUnsupportedMethod = errors.New("unsupported payout method")

// Transfer 一次打款请求
type Transfer struct {
	PayoutId    int64              `json:"payout_id"`
	DeveloperId string             `json:"developer_id"`
	Method      model.PayoutMethod `json:"method"`
	Destination string             `json:"destination"`
	Amount      decimal.Decimal    `json:"amount"`
	Attempt     int                `json:"attempt"`
}

// IdempotencyKey 同一笔打款每次重试使用不同的键
func (t Transfer) IdempotencyKey() string {
	return "payout-" + strconv.FormatInt(t.PayoutId, 10) + "-" + strconv.Itoa(t.Attempt)
}

// PayoutRail 打款通道，受理后异步到账，通过 complete/fail 对账
type PayoutRail interface {
	InitiateTransfer(ctx context.Context, transfer Transfer) (reference string, err error)
}

// Rails 按打款方式路由
type Rails map[model.PayoutMethod]PayoutRail

// InitiateTransfer 选择通道并发起打款
func (r Rails) InitiateTransfer(ctx context.Context, transfer Transfer) (string, error) {
	rail, ok := r[transfer.Method]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, transfer.Method)
	}
	started := time.Now()
	ref, err := rail.InitiateTransfer(ctx, transfer)
	metrics.ObserveExternal("rail_"+string(transfer.Method), started, err)
	return ref, err
}

// HTTPRail 银行、PayPal 等服务商的打款接口
type HTTPRail struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPRail 创建服务商打款通道
func NewHTTPRail(baseURL, apiKey string, timeout time.Duration) *HTTPRail {
	return &HTTPRail{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// InitiateTransfer 提交打款，返回服务商受理编号
func (h *HTTPRail) InitiateTransfer(ctx context.Context, transfer Transfer) (string, error) {
	var resp struct {
		Reference string `json:"reference"`
	}
	if err := postJSON(ctx, h.client, h.baseURL+"/transfers", h.apiKey, transfer.IdempotencyKey(), transfer, &resp); err != nil {
		return "", err
	}
	if resp.Reference == "" {
		return "", errors.New("transfer accepted without reference")
	}
	return resp.Reference, nil
}

// ManualRail 未接入服务商时由财务人工打款，完成后调用 complete
type ManualRail struct {
	method model.PayoutMethod
}

// NewManualRail 创建人工打款通道
func NewManualRail(method model.PayoutMethod) *ManualRail {
	return &ManualRail{method: method}
}

// InitiateTransfer 生成人工处理编号
func (m *ManualRail) InitiateTransfer(ctx context.Context, transfer Transfer) (string, error) {
	ref := "manual-" + uuid.NewString()
	logger.Info("Payout %d queued for manual %s transfer of %s to %s (ref %s)",
		transfer.PayoutId, m.method, transfer.Amount.StringFixed(2), transfer.Destination, ref)
	return ref, nil
}

// ValidateDestination 校验收款账户格式
func ValidateDestination(method model.PayoutMethod, destination string) error {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return errors.New("destination is required")
	}
	switch method {
	case model.PayoutMethodBank:
		if len(destination) < 6 {
			return errors.New("bank account is too short")
		}
	case model.PayoutMethodPayPal:
		if _, err := mail.ParseAddress(destination); err != nil {
			return fmt.Errorf("invalid paypal email: %w", err)
		}
	case model.PayoutMethodCrypto:
		if !common.IsHexAddress(destination) {
			return errors.New("invalid wallet address")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	return nil
}
