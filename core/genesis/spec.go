package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"trustlance/crypto"
)

// NativeAssetKey names the native asset in allocation maps.
const NativeAssetKey = "native"

// Spec is the JSON genesis document: the network name signed calls must carry
// and the balances credited before the first call.
type Spec struct {
	Network string                       `json:"network"`
	Alloc   map[string]map[string]string `json:"alloc"` // addr -> asset -> amount
}

// Allocation is one validated genesis credit.
type Allocation struct {
	Address crypto.Address
	Asset   string
	Amount  *big.Int
}

// Load reads and decodes the genesis document at path.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	spec := new(Spec)
	if err := dec.Decode(spec); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	return spec, nil
}

// Allocations validates every entry and returns them sorted by address then
// asset so application order is deterministic.
func (s *Spec) Allocations() ([]Allocation, error) {
	if s == nil {
		return nil, nil
	}
	out := make([]Allocation, 0, len(s.Alloc))
	for rawAddr, assets := range s.Alloc {
		addr, err := crypto.DecodeAddress(rawAddr)
		if err != nil {
			return nil, fmt.Errorf("genesis alloc %q: %w", rawAddr, err)
		}
		for rawAsset, rawAmount := range assets {
			amount, ok := new(big.Int).SetString(strings.TrimSpace(rawAmount), 10)
			if !ok || amount.Sign() <= 0 {
				return nil, fmt.Errorf("genesis alloc %s/%s: invalid amount %q", rawAddr, rawAsset, rawAmount)
			}
			out = append(out, Allocation{Address: addr, Asset: NormalizeAsset(rawAsset), Amount: amount})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Address[:], out[j].Address[:]); c != 0 {
			return c < 0
		}
		return out[i].Asset < out[j].Asset
	})
	return out, nil
}

// NormalizeAsset maps "native" to the empty native asset name and upper-cases
// any other symbol.
func NormalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" || strings.EqualFold(trimmed, NativeAssetKey) {
		return ""
	}
	return strings.ToUpper(trimmed)
}
