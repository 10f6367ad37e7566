package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"x402-gateway/internal/domain/payment"
)

// Config チェーンクライアントの設定
type Config struct {
	ChainID      int64
	PrivateKey   string
	RPCTimeout   time.Duration
	PollInterval time.Duration
	GasLimitCap  uint64
	MaxFeeCap    *big.Int
	// SendRetries 署名済みトランザクションの送信試行回数
	SendRetries       uint
	SendRetryInterval time.Duration
}

// Client EIP-3009トークンを扱うJSON-RPCアダプター
type Client struct {
	eth          EthClient
	chainID      *big.Int
	key          *ecdsa.PrivateKey
	from         common.Address
	rpcTimeout   time.Duration
	pollInterval time.Duration
	gasLimitCap  uint64
	maxFeeCap    *big.Int
	tracer       trace.Tracer

	sendRetries       uint
	sendRetryInterval time.Duration

	// 送信用アカウントのノンス割り当て。ロックはI/Oをまたがない
	nonceMu   sync.Mutex
	nextNonce uint64
	nonceSet  bool
	released  []uint64
}

// NewClient 新しいClientを作成
func NewClient(eth EthClient, cfg Config) (*Client, error) {
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}
	c := &Client{
		eth:          eth,
		chainID:      big.NewInt(cfg.ChainID),
		rpcTimeout:   cfg.RPCTimeout,
		pollInterval: cfg.PollInterval,
		gasLimitCap:  cfg.GasLimitCap,
		maxFeeCap:    cfg.MaxFeeCap,
		tracer:       otel.Tracer("chain-client"),

		sendRetries:       cfg.SendRetries,
		sendRetryInterval: cfg.SendRetryInterval,
	}
	if c.rpcTimeout <= 0 {
		c.rpcTimeout = 10 * time.Second
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 2 * time.Second
	}
	if c.sendRetries == 0 {
		c.sendRetries = 3
	}
	if c.sendRetryInterval <= 0 {
		c.sendRetryInterval = 200 * time.Millisecond
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("failed to parse facilitator private key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

// Address 送信用アカウントのアドレスを返す
func (c *Client) Address() common.Address {
	return c.from
}

// Ping RPCエンドポイントの疎通とチェーンIDを確認
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return classify("chain_id", err)
	}
	if id.Cmp(c.chainID) != 0 {
		return fmt.Errorf("rpc chain id %s does not match configured %s", id, c.chainID)
	}
	return nil
}

// GetBalance トークン残高を取得
func (c *Client) GetBalance(ctx context.Context, account, token common.Address) (*big.Int, error) {
	ctx, span := c.tracer.Start(ctx, "chain.GetBalance")
	defer span.End()
	span.SetAttributes(attribute.String("account", account.Hex()), attribute.String("token", token.Hex()))

	out, err := c.call(ctx, "balanceOf", token, account)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		err := fmt.Errorf("%w: balanceOf returned %T", ErrUnexpectedResult, out[0])
		recordSpanError(span, err)
		return nil, err
	}
	return balance, nil
}

// IsNonceUsedOnChain authorizationStateでノンスの使用状況を取得
func (c *Client) IsNonceUsedOnChain(ctx context.Context, token, payer common.Address, nonce payment.Nonce) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "chain.IsNonceUsedOnChain")
	defer span.End()
	span.SetAttributes(attribute.String("payer", payer.Hex()), attribute.String("nonce", nonce.Hex()))

	out, err := c.call(ctx, "authorizationState", token, payer, [32]byte(nonce))
	if err != nil {
		recordSpanError(span, err)
		return false, err
	}
	used, ok := out[0].(bool)
	if !ok {
		err := fmt.Errorf("%w: authorizationState returned %T", ErrUnexpectedResult, out[0])
		recordSpanError(span, err)
		return false, err
	}
	return used, nil
}

// SubmitTransfer transferWithAuthorizationを含むEIP-1559トランザクションを送信
func (c *Client) SubmitTransfer(ctx context.Context, auth payment.Authorization, token common.Address) (common.Hash, error) {
	ctx, span := c.tracer.Start(ctx, "chain.SubmitTransfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("payer", auth.From.Hex()),
		attribute.String("nonce", auth.Nonce.Hex()),
	)

	hash, err := c.submitTransfer(ctx, auth, token)
	if err != nil {
		recordSpanError(span, err)
		return common.Hash{}, err
	}
	span.SetAttributes(attribute.String("tx_hash", hash.Hex()))
	return hash, nil
}

func (c *Client) submitTransfer(ctx context.Context, auth payment.Authorization, token common.Address) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, ErrNoSigner
	}
	if len(auth.Signature) != payment.SignatureLength {
		return common.Hash{}, fmt.Errorf("signature must be %d bytes, got %d", payment.SignatureLength, len(auth.Signature))
	}

	var r, s [32]byte
	copy(r[:], auth.Signature[0:32])
	copy(s[:], auth.Signature[32:64])
	v := auth.Signature[64]
	if v == 0 || v == 1 {
		v += 27
	}

	data, err := tokenABI.Pack(
		"transferWithAuthorization",
		auth.From,
		auth.To,
		auth.Value,
		big.NewInt(auth.ValidAfter),
		big.NewInt(auth.ValidBefore),
		[32]byte(auth.Nonce),
		v,
		r,
		s,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack transferWithAuthorization: %w", err)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	gasTipCap, err := c.eth.SuggestGasTipCap(rpcCtx)
	if err != nil {
		return common.Hash{}, classify("suggest_gas_tip_cap", err)
	}
	head, err := c.eth.HeaderByNumber(rpcCtx, nil)
	if err != nil {
		return common.Hash{}, classify("header_by_number", err)
	}
	gasFeeCap := new(big.Int).Set(gasTipCap)
	if head.BaseFee != nil {
		gasFeeCap = new(big.Int).Add(gasTipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	if c.maxFeeCap != nil && gasFeeCap.Cmp(c.maxFeeCap) > 0 {
		return common.Hash{}, fmt.Errorf("%w: %s > %s", ErrFeeCapExceeded, gasFeeCap, c.maxFeeCap)
	}

	estimated, err := c.eth.EstimateGas(rpcCtx, ethereum.CallMsg{
		From:      c.from,
		To:        &token,
		GasFeeCap: gasFeeCap,
		GasTipCap: gasTipCap,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, classify("estimate_gas", err)
	}
	gasLimit := estimated * 120 / 100
	if c.gasLimitCap > 0 && gasLimit > c.gasLimitCap {
		gasLimit = c.gasLimitCap
	}

	pending, err := c.eth.PendingNonceAt(rpcCtx, c.from)
	if err != nil {
		return common.Hash{}, classify("pending_nonce_at", err)
	}
	txNonce := c.allocateNonce(pending)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     txNonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &token,
		Value:     big.NewInt(0),
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.NewLondonSigner(c.chainID), c.key)
	if err != nil {
		c.releaseNonce(txNonce)
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.broadcast(ctx, signed); err != nil {
		var ambiguous *AmbiguousSendError
		if !errors.As(err, &ambiguous) {
			c.releaseNonce(txNonce)
		}
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

// broadcast 署名済みトランザクションを送信する
//
// 再試行は同じ署名済みバイト列を再送するだけなので、ハッシュは変わらない。
// 一度でも応答を受け取れなかった送信があれば、ノードに届いた可能性があるため
// 最終的な失敗はAmbiguousSendErrorとして返す。
func (c *Client) broadcast(ctx context.Context, signed *types.Transaction) error {
	mayHaveSent := false
	operation := func() (struct{}, error) {
		rpcCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
		defer cancel()

		err := c.eth.SendTransaction(rpcCtx, signed)
		if err == nil || isKnownTransaction(err) {
			return struct{}{}, nil
		}
		// 前回の送信が取り込まれていればノードはノンスを使用済みとして拒否する
		if mayHaveSent && isNonceTooLow(err) {
			return struct{}{}, nil
		}
		classified := classify("send_transaction", err)
		if IsNetworkError(classified) {
			mayHaveSent = true
			return struct{}{}, classified
		}
		return struct{}{}, backoff.Permanent(classified)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.sendRetryInterval)),
		backoff.WithMaxTries(c.sendRetries),
	)
	if err == nil {
		return nil
	}
	if mayHaveSent {
		return &AmbiguousSendError{Hash: signed.Hash(), Err: err}
	}
	return err
}

// allocateNonce 解放済みのノンスを優先し、なければノードの保留ノンスとローカルのカウンタの大きい方を割り当てる
func (c *Client) allocateNonce(pending uint64) uint64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	// ノードが既に先へ進んでいる解放済みノンスは捨てる
	c.released = slices.DeleteFunc(c.released, func(n uint64) bool { return n < pending })
	if len(c.released) > 0 {
		slices.Sort(c.released)
		n := c.released[0]
		c.released = c.released[1:]
		return n
	}

	n := pending
	if c.nonceSet && c.nextNonce > n {
		n = c.nextNonce
	}
	c.nextNonce = n + 1
	c.nonceSet = true
	return n
}

// releaseNonce 送信されなかったノンスを返却する
//
// 最後に割り当てたノンスならカウンタを戻す。後続の送信がより大きいノンスを
// 保持している場合は、カウンタを戻すと衝突するため次の割り当てで再利用する。
func (c *Client) releaseNonce(n uint64) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	if c.nonceSet && c.nextNonce == n+1 {
		c.nextNonce = n
		return
	}
	if !slices.Contains(c.released, n) {
		c.released = append(c.released, n)
	}
}

// AwaitConfirmation レシートをポーリングし確認を待つ
//
// タイムアウトしてもトランザクションは取り消されない。待機をやめるだけ。
func (c *Client) AwaitConfirmation(ctx context.Context, txHash common.Hash, timeout time.Duration) (payment.Confirmation, error) {
	ctx, span := c.tracer.Start(ctx, "chain.AwaitConfirmation")
	defer span.End()
	span.SetAttributes(attribute.String("tx_hash", txHash.Hex()))

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.receiptStatus(waitCtx, txHash)
		if err == nil && status != payment.ConfirmationPending {
			span.SetAttributes(attribute.String("confirmation", status.String()))
			return status, nil
		}
		// ネットワークエラーは再送せずポーリングを続ける

		select {
		case <-waitCtx.Done():
			span.SetAttributes(attribute.String("confirmation", payment.ConfirmationTimedOut.String()))
			return payment.ConfirmationTimedOut, nil
		case <-ticker.C:
		}
	}
}

// TransactionStatus トランザクションの現在の状態を取得
func (c *Client) TransactionStatus(ctx context.Context, txHash common.Hash) (payment.Confirmation, error) {
	ctx, span := c.tracer.Start(ctx, "chain.TransactionStatus")
	defer span.End()

	status, err := c.receiptStatus(ctx, txHash)
	if err != nil {
		recordSpanError(span, err)
		return "", err
	}
	return status, nil
}

func (c *Client) receiptStatus(ctx context.Context, txHash common.Hash) (payment.Confirmation, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	receipt, err := c.eth.TransactionReceipt(rpcCtx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return payment.ConfirmationPending, nil
	}
	if err != nil {
		return "", classify("transaction_receipt", err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return payment.ConfirmationConfirmed, nil
	}
	return payment.ConfirmationReverted, nil
}

func (c *Client) call(ctx context.Context, method string, contract common.Address, args ...interface{}) ([]interface{}, error) {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, classify(method, err)
	}
	out, err := tokenABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnexpectedResult, method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d values", ErrUnexpectedResult, method, len(out))
	}
	return out, nil
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
