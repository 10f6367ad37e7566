package facilitator

// SupportedKind 対応している支払い方式
type SupportedKind struct {
	X402Version int
	Scheme      string
	Network     string
	ChainID     int64
}

// HealthReport ヘルスチェック結果
type HealthReport struct {
	Status string
	Checks map[string]string
}

// Healthy 全てのチェックが成功したかどうかを返す
func (r HealthReport) Healthy() bool {
	return r.Status == HealthStatusOK
}

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
)
