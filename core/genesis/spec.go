package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"nervix/crypto"
	"nervix/native/fees"
)

// GenesisSpec describes the initial ledger: who administers it, where fees
// go, which account holds escrowed value, and any pre-funded accounts.
type GenesisSpec struct {
	Owner         string            `json:"owner" toml:"owner"`
	Treasury      string            `json:"treasury" toml:"treasury"`
	Vault         string            `json:"vault" toml:"vault"`
	Fees          *fees.Schedule    `json:"fees,omitempty" toml:"fees"`
	MinGasReserve string            `json:"minGasReserve,omitempty" toml:"min_gas_reserve"`
	Alloc         map[string]string `json:"alloc,omitempty" toml:"alloc"`

	owner, treasury, vault [20]byte
	minGasReserve          *big.Int
	alloc                  map[[20]byte]*big.Int
}

// LoadGenesisSpec reads a JSON genesis file.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis %q: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate parses every address and amount and caches the results.
func (s *GenesisSpec) Validate() error {
	var err error
	if s.owner, err = parseRequired("owner", s.Owner); err != nil {
		return err
	}
	if s.treasury, err = parseRequired("treasury", s.Treasury); err != nil {
		return err
	}
	if s.vault, err = parseRequired("vault", s.Vault); err != nil {
		return err
	}
	if s.vault == s.treasury {
		return fmt.Errorf("genesis: vault and treasury must differ")
	}
	if s.Fees != nil {
		if err := s.Fees.Validate(); err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
	}
	if strings.TrimSpace(s.MinGasReserve) != "" {
		if s.minGasReserve, err = parseAmountString(s.MinGasReserve); err != nil {
			return fmt.Errorf("genesis: minGasReserve: %w", err)
		}
	}
	s.alloc = make(map[[20]byte]*big.Int, len(s.Alloc))
	for addr, amount := range s.Alloc {
		parsed, err := crypto.ParseAddress(addr)
		if err != nil {
			return fmt.Errorf("genesis: alloc %q: %w", addr, err)
		}
		value, err := parseAmountString(amount)
		if err != nil {
			return fmt.Errorf("genesis: alloc %q: %w", addr, err)
		}
		s.alloc[parsed] = value
	}
	return nil
}

func parseRequired(field, value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, fmt.Errorf("genesis: %s is required", field)
	}
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("genesis: %s: %w", field, err)
	}
	return addr, nil
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return amount, nil
}

// Schedule returns the configured fee schedule or the defaults.
func (s *GenesisSpec) Schedule() fees.Schedule {
	if s.Fees == nil {
		return fees.DefaultSchedule()
	}
	return *s.Fees
}

// Allocations returns the parsed allocations in a deterministic order.
func (s *GenesisSpec) Allocations() []Allocation {
	out := make([]Allocation, 0, len(s.alloc))
	for addr, amount := range s.alloc {
		out = append(out, Allocation{Address: addr, Amount: new(big.Int).Set(amount)})
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Address[:]) < string(out[j].Address[:])
	})
	return out
}

// Allocation is a pre-funded account balance.
type Allocation struct {
	Address [20]byte
	Amount  *big.Int
}
