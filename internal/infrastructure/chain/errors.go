package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrNoSigner 送信用の秘密鍵が設定されていない
	ErrNoSigner = errors.New("facilitator signing key not configured")
	// ErrFeeCapExceeded 手数料上限が設定値を超えた
	ErrFeeCapExceeded = errors.New("fee cap exceeds configured maximum")
	// ErrUnexpectedResult コントラクト呼び出しの戻り値が不正
	ErrUnexpectedResult = errors.New("unexpected contract call result")
)

// NetworkError RPCエンドポイントに到達できない・タイムアウトした場合のエラー
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError エラーがNetworkErrorかどうかを返す
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// AmbiguousSendError 署名済みトランザクションがノードに届いたか判別できない場合のエラー
//
// Hashのトランザクションは取り込まれている可能性がある。呼び出し側は再構築して
// 再署名せず、このハッシュの確認を待つ。
type AmbiguousSendError struct {
	Hash common.Hash
	Err  error
}

func (e *AmbiguousSendError) Error() string {
	return fmt.Sprintf("transaction %s may have been sent: %v", e.Hash.Hex(), e.Err)
}

func (e *AmbiguousSendError) Unwrap() error {
	return e.Err
}

// isKnownTransaction 同じトランザクションがノードのプールに既にある
func isKnownTransaction(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

func isNonceTooLow(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

// classify ノードが応答したJSON-RPCエラーはそのまま、それ以外はNetworkErrorとして返す
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNetworkError(err) {
		return err
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, ethereum.NotFound) {
		return err
	}
	return &NetworkError{Op: op, Err: err}
}
