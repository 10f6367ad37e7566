package payment

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Scheme 支払いスキーム識別子
type Scheme string

const (
	// SchemeExact EIP-3009 transferWithAuthorization による定額支払い
	SchemeExact Scheme = "exact"
)

// String 文字列表現を返す
func (s Scheme) String() string {
	return string(s)
}

// Network ネットワーク識別子
type Network string

// String 文字列表現を返す
func (n Network) String() string {
	return string(n)
}

// Capability (スキーム, ネットワーク) の組に対して提供できる機能
type Capability struct {
	Scheme  Scheme
	Network Network
	ChainID int64
	// Asset 受け付けるトークンコントラクト。ゼロ値なら限定しない
	Asset common.Address
}

// AcceptsAsset 指定のトークンを受け付けるかどうかを返す
func (c Capability) AcceptsAsset(asset common.Address) bool {
	return c.Asset == (common.Address{}) || c.Asset == asset
}

// Capabilities デプロイごとに固定されるスキーム×ネットワークの対応表
type Capabilities struct {
	entries map[capabilityKey]Capability
	order   []Capability
}

type capabilityKey struct {
	scheme  Scheme
	network Network
}

// NewCapabilities 新しいCapabilitiesを作成
func NewCapabilities(caps ...Capability) (*Capabilities, error) {
	c := &Capabilities{entries: make(map[capabilityKey]Capability, len(caps))}
	for _, cp := range caps {
		if cp.Scheme == "" || cp.Network == "" {
			return nil, fmt.Errorf("capability requires scheme and network")
		}
		if cp.ChainID <= 0 {
			return nil, fmt.Errorf("capability %s/%s requires a positive chain id", cp.Scheme, cp.Network)
		}
		key := capabilityKey{scheme: cp.Scheme, network: cp.Network}
		if _, dup := c.entries[key]; dup {
			return nil, fmt.Errorf("duplicate capability %s/%s", cp.Scheme, cp.Network)
		}
		c.entries[key] = cp
		c.order = append(c.order, cp)
	}
	return c, nil
}

// Lookup スキームとネットワークに対応する機能を返す
func (c *Capabilities) Lookup(scheme Scheme, network Network) (Capability, bool) {
	cp, ok := c.entries[capabilityKey{scheme: scheme, network: network}]
	return cp, ok
}

// All 登録順に全ての機能を返す
func (c *Capabilities) All() []Capability {
	out := make([]Capability, len(c.order))
	copy(out, c.order)
	return out
}
