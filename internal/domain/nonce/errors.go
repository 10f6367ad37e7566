package nonce

import "errors"

var (
	// ErrNotClaimed Claimされていないノンスに結果を記録しようとした
	ErrNotClaimed = errors.New("nonce not claimed")
	// ErrAlreadyResolved 既に結果が確定しているノンス
	ErrAlreadyResolved = errors.New("nonce already resolved")
)
