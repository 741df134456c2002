// Package ethereum 稳定币打款通道：ERC-20 transfer 上链与确认数对账
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/blues/pes/internal/config"
	"github.com/blues/pes/internal/gateway"
	"github.com/blues/pes/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// supportedChains 支持的 EVM 链
var supportedChains = []string{"ethereum", "polygon", "bsc", "arbitrum", "optimism"}

// erc20ABI 只需要 transfer
const erc20ABI = `[
	{
		"constant": false,
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

// Backend 打款用到的节点接口，*ethclient.Client 满足
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// TransferStatus 链上交易状态
type TransferStatus int

const (
	StatusPending   TransferStatus = iota // 未上链或确认数不足
	StatusConfirmed                       // 已达到确认数
	StatusReverted                        // 交易失败
)

// Client 稳定币打款客户端
type Client struct {
	backend       Backend
	privateKey    *ecdsa.PrivateKey
	from          common.Address
	token         common.Address
	chainId       *big.Int
	decimals      int32
	confirmations uint64
	tokenABI      abi.ABI

	// 同一出款账户串行分配 nonce
	nonceMu sync.Mutex
}

// Init 连接节点并创建打款客户端
func Init(cfg config.ChainConfig) (*Client, error) {
	if !isSupported(cfg.ChainType) {
		return nil, fmt.Errorf("unsupported chain type %s, supported types: %s", cfg.ChainType, strings.Join(supportedChains, ", "))
	}
	if cfg.RpcUrl == "" {
		return nil, errors.New("no RPC URL configured")
	}

	logger.Info("Creating %s client connection (chain id: %d)", cfg.ChainType, cfg.ChainId)
	client, err := ethclient.Dial(cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s client: %w", cfg.ChainType, err)
	}
	return New(client, cfg)
}

// New 使用已有节点连接创建客户端
func New(backend Backend, cfg config.ChainConfig) (*Client, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	if !common.IsHexAddress(cfg.TokenAddress) {
		return nil, fmt.Errorf("invalid token address %q", cfg.TokenAddress)
	}
	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}

	return &Client{
		backend:       backend,
		privateKey:    privateKey,
		from:          crypto.PubkeyToAddress(privateKey.PublicKey),
		token:         common.HexToAddress(cfg.TokenAddress),
		chainId:       big.NewInt(cfg.ChainId),
		decimals:      cfg.TokenDecimals,
		confirmations: cfg.Confirmations,
		tokenABI:      parsedABI,
	}, nil
}

func isSupported(chainType string) bool {
	for _, t := range supportedChains {
		if t == chainType {
			return true
		}
	}
	return false
}

// GetAccountAddress 出款账户地址
func (c *Client) GetAccountAddress() common.Address {
	return c.from
}

// ToTokenUnits 金额换算为代币最小单位，不允许截断
func ToTokenUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", amount)
	}
	shifted := amount.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %s exceeds token precision %d", amount, decimals)
	}
	return shifted.BigInt(), nil
}

// InitiateTransfer 签名并广播 ERC-20 transfer，返回交易哈希
func (c *Client) InitiateTransfer(ctx context.Context, transfer gateway.Transfer) (string, error) {
	if !common.IsHexAddress(transfer.Destination) {
		return "", fmt.Errorf("invalid wallet address %q", transfer.Destination)
	}
	value, err := ToTokenUnits(transfer.Amount, c.decimals)
	if err != nil {
		return "", err
	}
	to := common.HexToAddress(transfer.Destination)
	data, err := c.tokenABI.Pack("transfer", to, value)
	if err != nil {
		return "", fmt.Errorf("pack transfer: %w", err)
	}

	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.token,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.token,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainId), c.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	logger.Info("Payout %d broadcast as %s (nonce %d)", transfer.PayoutId, signed.Hash().Hex(), nonce)
	return signed.Hash().Hex(), nil
}

// TransferStatus 查询交易是否达到确认数
func (c *Client) TransferStatus(ctx context.Context, txHash string) (TransferStatus, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return StatusPending, nil
		}
		return StatusPending, fmt.Errorf("get receipt: %w", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return StatusReverted, nil
	}

	latest, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return StatusPending, fmt.Errorf("get block number: %w", err)
	}
	if latest >= receipt.BlockNumber.Uint64()+c.confirmations {
		return StatusConfirmed, nil
	}
	return StatusPending, nil
}
