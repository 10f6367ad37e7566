package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	driver "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"x402-gateway/internal/domain/nonce"
	"x402-gateway/internal/domain/payment"
)

// mysqlErrDuplicateEntry 主キー重複のエラー番号
const mysqlErrDuplicateEntry = 1062

const createNonceTable = `
	CREATE TABLE IF NOT EXISTS settlement_nonces (
		nonce          CHAR(66)    NOT NULL PRIMARY KEY,
		status         VARCHAR(16) NOT NULL,
		success        BOOLEAN     NOT NULL DEFAULT FALSE,
		tx_hash        VARCHAR(66) NOT NULL DEFAULT '',
		amount         VARCHAR(78) NOT NULL DEFAULT '',
		network        VARCHAR(64) NOT NULL DEFAULT '',
		payer          VARCHAR(42) NOT NULL DEFAULT '',
		error_reason   VARCHAR(64) NOT NULL DEFAULT '',
		invalid_reason VARCHAR(64) NOT NULL DEFAULT '',
		claimed_at     DATETIME(6) NOT NULL,
		resolved_at    DATETIME(6) NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
`

// NonceRegistry MySQL実装のノンスレジストリ
//
// 主キー制約による挿入でtest-and-setを行うため、複数プロセスで共有できる。
type NonceRegistry struct {
	db     *DB
	tracer trace.Tracer
	now    func() time.Time
}

// NewNonceRegistry 新しいNonceRegistryを作成
func NewNonceRegistry(db *DB) *NonceRegistry {
	return &NonceRegistry{
		db:     db,
		tracer: otel.Tracer("nonce-registry"),
		now:    time.Now,
	}
}

// EnsureSchema テーブルが存在しなければ作成
func (r *NonceRegistry) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createNonceTable); err != nil {
		return fmt.Errorf("failed to create settlement_nonces table: %w", err)
	}
	return nil
}

// Claim ノンスをアトミックに登録
func (r *NonceRegistry) Claim(ctx context.Context, n payment.Nonce) (nonce.Entry, bool, error) {
	ctx, span := r.tracer.Start(ctx, "NonceRegistry.Claim")
	defer span.End()
	span.SetAttributes(attribute.String("nonce", n.Hex()))

	claimedAt := r.now().UTC()
	query := `INSERT INTO settlement_nonces (nonce, status, claimed_at) VALUES (?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, n.Hex(), nonce.StatusPending.String(), claimedAt)
	if err == nil {
		return nonce.Entry{Nonce: n, Status: nonce.StatusPending, ClaimedAt: claimedAt}, true, nil
	}

	var myErr *driver.MySQLError
	if !errors.As(err, &myErr) || myErr.Number != mysqlErrDuplicateEntry {
		span.RecordError(err)
		return nonce.Entry{}, false, fmt.Errorf("failed to claim nonce: %w", err)
	}

	existing, err := r.find(ctx, n)
	if err != nil {
		span.RecordError(err)
		return nonce.Entry{}, false, err
	}
	return existing, false, nil
}

// Resolve 処理中のエントリに結果を記録
func (r *NonceRegistry) Resolve(ctx context.Context, n payment.Nonce, receipt payment.SettlementReceipt) error {
	ctx, span := r.tracer.Start(ctx, "NonceRegistry.Resolve")
	defer span.End()

	amount := ""
	if receipt.Amount != nil {
		amount = receipt.Amount.String()
	}
	payer := ""
	if receipt.Payer != (common.Address{}) {
		payer = receipt.Payer.Hex()
	}

	query := `
		UPDATE settlement_nonces
		SET status = ?, success = ?, tx_hash = ?, amount = ?, network = ?, payer = ?,
			error_reason = ?, invalid_reason = ?, resolved_at = ?
		WHERE nonce = ? AND status = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		nonce.StatusResolved.String(),
		receipt.Success,
		receipt.Transaction,
		amount,
		receipt.Network.String(),
		payer,
		receipt.ErrorReason.String(),
		receipt.InvalidReason.String(),
		r.now().UTC(),
		n.Hex(),
		nonce.StatusPending.String(),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to resolve nonce: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	ok, err := r.Contains(ctx, n)
	if err != nil {
		return err
	}
	if !ok {
		return nonce.ErrNotClaimed
	}
	return nonce.ErrAlreadyResolved
}

// Contains ノンスが登録済みかどうかを返す
func (r *NonceRegistry) Contains(ctx context.Context, n payment.Nonce) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM settlement_nonces WHERE nonce = ?`, n.Hex()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up nonce: %w", err)
	}
	return true, nil
}

func (r *NonceRegistry) find(ctx context.Context, n payment.Nonce) (nonce.Entry, error) {
	query := `
		SELECT status, success, tx_hash, amount, network, payer, error_reason, invalid_reason, claimed_at
		FROM settlement_nonces
		WHERE nonce = ?
	`
	var (
		status, txHash, amount, network, payer, errorReason, invalidReason string
		success                                                            bool
		claimedAt                                                          time.Time
	)
	err := r.db.QueryRowContext(ctx, query, n.Hex()).Scan(
		&status, &success, &txHash, &amount, &network, &payer, &errorReason, &invalidReason, &claimedAt,
	)
	if err != nil {
		return nonce.Entry{}, fmt.Errorf("failed to load nonce entry: %w", err)
	}

	entry := nonce.Entry{
		Nonce:     n,
		Status:    nonce.Status(status),
		ClaimedAt: claimedAt,
		Receipt: payment.SettlementReceipt{
			Success:       success,
			Transaction:   txHash,
			Network:       payment.Network(network),
			ErrorReason:   payment.ErrorReason(errorReason),
			InvalidReason: payment.InvalidReason(invalidReason),
		},
	}
	if amount != "" {
		if v, ok := new(big.Int).SetString(amount, 10); ok {
			entry.Receipt.Amount = v
		}
	}
	if common.IsHexAddress(payer) {
		entry.Receipt.Payer = common.HexToAddress(payer)
	}
	return entry, nil
}
