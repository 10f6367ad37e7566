package payer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"x402-gateway/internal/domain/payment"
	"x402-gateway/internal/infrastructure/codec"
	otelinfra "x402-gateway/internal/infrastructure/observability/otel"
)

// maxChallengeBody 402応答ボディの読み込み上限
const maxChallengeBody = 1 << 20

// Transport 402応答に支払って1回だけ再送するRoundTripper
//
// 再送後の応答が再び402でもそれ以上は再送しない。
type Transport struct {
	Base   http.RoundTripper
	Signer *Signer
	Logger *otelinfra.Logger
}

// NewTransport 新しいTransportを作成
func NewTransport(base http.RoundTripper, signer *Signer, logger *otelinfra.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Signer: signer, Logger: logger}
}

// Client Transportを使うhttp.Clientを返す
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// RoundTrip http.RoundTripperの実装
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := snapshotBody(req)
	if err != nil {
		return nil, err
	}

	first := req.Clone(req.Context())
	first.Body = body()
	resp, err := t.Base.RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusPaymentRequired {
		return resp, err
	}
	// X-PAYMENTを付けて送った結果の402はそのまま返す
	if req.Header.Get(codec.HeaderPayment) != "" {
		return resp, nil
	}

	accepts, err := readChallenge(resp)
	if err != nil {
		return nil, err
	}
	chosen, err := t.Signer.Choose(accepts)
	if err != nil {
		return nil, err
	}
	auth, err := t.Signer.Sign(chosen)
	if err != nil {
		return nil, err
	}
	header, err := codec.EncodeAuthorization(auth)
	if err != nil {
		return nil, err
	}

	if t.Logger != nil {
		t.Logger.Info(req.Context(), "Paying for resource", map[string]interface{}{
			"resource": chosen.Resource,
			"amount":   chosen.Amount.String(),
			"pay_to":   chosen.PayTo.Hex(),
			"network":  chosen.Network.String(),
			"nonce":    auth.Nonce.Hex(),
		})
	}

	retry := req.Clone(req.Context())
	retry.Body = body()
	retry.Header.Set(codec.HeaderPayment, header)
	return t.Base.RoundTrip(retry)
}

// snapshotBody 再送できるようにリクエストボディを複製する関数を返す
func snapshotBody(req *http.Request) (func() io.ReadCloser, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return func() io.ReadCloser { return http.NoBody }, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return func() io.ReadCloser {
			b, err := req.GetBody()
			if err != nil {
				return io.NopCloser(errReader{err})
			}
			return b
		}, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	return func() io.ReadCloser { return io.NopCloser(bytes.NewReader(data)) }, nil
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// readChallenge 402応答から支払い条件を読み出す
func readChallenge(resp *http.Response) ([]payment.Requirements, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read payment challenge: %w", err)
	}

	var wire codec.PaymentRequiredWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &codec.DecodeError{Field: "accepts", Reason: "malformed payment challenge", Err: err}
	}

	var accepts []payment.Requirements
	var decodeErr error
	for _, w := range wire.Accepts {
		req, err := codec.RequirementsFromWire(w)
		if err != nil {
			decodeErr = err
			continue
		}
		accepts = append(accepts, req)
	}
	if len(accepts) == 0 {
		if decodeErr != nil {
			return nil, decodeErr
		}
		return nil, ErrNoAcceptableRequirements
	}
	return accepts, nil
}

// DecodePaymentResponse 応答のX-PAYMENT-RESPONSEヘッダーから決済結果を読み出す
func DecodePaymentResponse(resp *http.Response) (payment.SettlementReceipt, error) {
	token := resp.Header.Get(codec.HeaderPaymentResponse)
	if token == "" {
		return payment.SettlementReceipt{}, ErrNoPaymentResponse
	}
	return codec.DecodeReceipt(token)
}
