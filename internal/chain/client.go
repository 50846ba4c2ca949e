package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"model-market-go/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const depositABI = `[{"anonymous":false,"inputs":[
	{"indexed":true,"name":"from","type":"address"},
	{"indexed":true,"name":"token","type":"address"},
	{"indexed":false,"name":"amount","type":"uint256"}],
	"name":"Deposit","type":"event"}]`

const erc20ABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],
	"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

var ErrUndecodableLog = errors.New("undecodable contract log")

// Backend is the subset of ethclient.Client used here
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Client struct {
	backend      Backend
	contract     common.Address
	gateToken    common.Address
	gateDecimals int32
	depositAbi   abi.ABI
	erc20Abi     abi.ABI
	depositTopic common.Hash
	closeFn      func()
}

// Dial connects to the RPC endpoint in cfg
func Dial(ctx context.Context, cfg models.ChainConfig) (*Client, error) {
	if cfg.RpcUrl == "" {
		return nil, fmt.Errorf("web3 rpc url is not configured")
	}
	ethClient, err := ethclient.DialContext(ctx, cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("unable to dial rpc: %w", err)
	}
	client, err := NewClient(ethClient, cfg)
	if err != nil {
		ethClient.Close()
		return nil, err
	}
	client.closeFn = ethClient.Close
	return client, nil
}

func NewClient(backend Backend, cfg models.ChainConfig) (*Client, error) {
	if cfg.ContractAddress != "" && !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	if cfg.GateTokenAddress != "" && !common.IsHexAddress(cfg.GateTokenAddress) {
		return nil, fmt.Errorf("invalid gate token address %q", cfg.GateTokenAddress)
	}

	depositAbi, err := abi.JSON(strings.NewReader(depositABI))
	if err != nil {
		return nil, fmt.Errorf("unable to parse deposit abi: %w", err)
	}
	erc20Abi, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("unable to parse erc20 abi: %w", err)
	}

	return &Client{
		backend:      backend,
		contract:     common.HexToAddress(cfg.ContractAddress),
		gateToken:    common.HexToAddress(cfg.GateTokenAddress),
		gateDecimals: cfg.GateTokenDecimals,
		depositAbi:   depositAbi,
		erc20Abi:     erc20Abi,
		depositTopic: depositAbi.Events[models.EventNameDeposit].ID,
	}, nil
}

func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	number, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("unable to get latest block: %w", err)
	}
	return number, nil
}

// FetchDepositEvents returns the Deposit logs of the contract in [from, to]. Logs that cannot be
// decoded are logged and skipped.
func (c *Client) FetchDepositEvents(ctx context.Context, from, to uint64) ([]models.Web3Event, error) {
	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{c.depositTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to filter logs %d-%d: %w", from, to, err)
	}

	blockTimes := make(map[uint64]time.Time)
	events := make([]models.Web3Event, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}

		blockTime, ok := blockTimes[log.BlockNumber]
		if !ok {
			header, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(log.BlockNumber))
			if err != nil {
				return nil, fmt.Errorf("unable to get header for block %d: %w", log.BlockNumber, err)
			}
			blockTime = time.Unix(int64(header.Time), 0).UTC()
			blockTimes[log.BlockNumber] = blockTime
		}

		event, err := c.DecodeDeposit(log, blockTime)
		if err != nil {
			zap.L().Warn("Skipping contract log",
				zap.String("tx_hash", log.TxHash.Hex()),
				zap.Uint("log_index", log.Index),
				zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func (c *Client) DecodeDeposit(log types.Log, blockTime time.Time) (models.Web3Event, error) {
	if len(log.Topics) != 3 || log.Topics[0] != c.depositTopic {
		return models.Web3Event{}, fmt.Errorf("%w: unexpected topics", ErrUndecodableLog)
	}

	values, err := c.depositAbi.Unpack(models.EventNameDeposit, log.Data)
	if err != nil {
		return models.Web3Event{}, fmt.Errorf("%w: %v", ErrUndecodableLog, err)
	}
	if len(values) != 1 {
		return models.Web3Event{}, fmt.Errorf("%w: expected 1 value, got %d", ErrUndecodableLog, len(values))
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return models.Web3Event{}, fmt.Errorf("%w: amount is %T", ErrUndecodableLog, values[0])
	}

	txHash := log.TxHash.Hex()
	return models.Web3Event{
		EventId:         models.NewEventId(txHash, log.Index),
		BlockNumber:     log.BlockNumber,
		TransactionHash: strings.ToLower(txHash),
		LogIndex:        log.Index,
		Address:         strings.ToLower(log.Address.Hex()),
		EventName:       models.EventNameDeposit,
		EventHash:       log.Topics[0].Hex(),
		Data: map[string]string{
			models.DepositFromKey:   strings.ToLower(common.BytesToAddress(log.Topics[1].Bytes()).Hex()),
			models.DepositTokenKey:  strings.ToLower(common.BytesToAddress(log.Topics[2].Bytes()).Hex()),
			models.DepositAmountKey: amount.String(),
		},
		CreatedAt: blockTime,
	}, nil
}

// TokenBalance reads the gate token balance of a wallet, scaled by the token decimals
func (c *Client) TokenBalance(ctx context.Context, walletAddress string) (decimal.Decimal, error) {
	if !common.IsHexAddress(walletAddress) {
		return decimal.Zero, fmt.Errorf("invalid wallet address %q", walletAddress)
	}

	data, err := c.erc20Abi.Pack("balanceOf", common.HexToAddress(walletAddress))
	if err != nil {
		return decimal.Zero, fmt.Errorf("unable to pack balanceOf: %w", err)
	}

	output, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.gateToken, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unable to call balanceOf: %w", err)
	}

	values, err := c.erc20Abi.Unpack("balanceOf", output)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unable to unpack balanceOf: %w", err)
	}
	if len(values) != 1 {
		return decimal.Zero, fmt.Errorf("unexpected balanceOf output of %d values", len(values))
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected balanceOf type %T", values[0])
	}
	return decimal.NewFromBigInt(raw, -c.gateDecimals), nil
}
