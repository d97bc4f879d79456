package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"nervix/core/types"
	"nervix/native/escrow"
	"nervix/storage"
)

// KV is the subset of storage the manager needs. Both storage.Database and
// storage.Overlay satisfy it.
type KV interface {
	storage.Reader
	storage.Writer
}

// Manager reads and writes ledger state as RLP values under hashed keys.
type Manager struct {
	kv KV
}

// NewManager creates a state manager over kv.
func NewManager(kv KV) *Manager {
	return &Manager{kv: kv}
}

var (
	escrowParamsKey = ethcrypto.Keccak256([]byte("escrow/params"))
	escrowPrefix    = []byte("escrow/record/")
	balancePrefix   = []byte("balance/")
	noncePrefix     = []byte("nonce/")
	eventHeadKey    = ethcrypto.Keccak256([]byte("events/head"))
	eventPrefix     = []byte("events/seq/")
)

func prefixedKey(prefix, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return ethcrypto.Keccak256(buf)
}

func escrowKey(id uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], id)
	return prefixedKey(escrowPrefix, b[:])
}

func eventKey(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return prefixedKey(eventPrefix, b[:])
}

func (m *Manager) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.kv.Put(key, encoded)
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	data, err := m.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %x: %w", key, err)
	}
	return true, nil
}

// ErrNotInitialised is returned when genesis has not written the params.
var ErrNotInitialised = errors.New("state: ledger not initialised")

// EscrowParams loads the ledger-wide parameters.
func (m *Manager) EscrowParams() (*escrow.Params, error) {
	params := new(escrow.Params)
	ok, err := m.get(escrowParamsKey, params)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialised
	}
	return params.Clone(), nil
}

// SetEscrowParams persists the ledger-wide parameters.
func (m *Manager) SetEscrowParams(p *escrow.Params) error {
	if p == nil {
		return fmt.Errorf("state: nil params")
	}
	return m.put(escrowParamsKey, p.Clone())
}

// EscrowGet loads the escrow with the given id.
func (m *Manager) EscrowGet(id uint32) (*escrow.Escrow, bool, error) {
	rec := new(escrow.Escrow)
	ok, err := m.get(escrowKey(id), rec)
	if err != nil || !ok {
		return nil, false, err
	}
	sanitized, err := escrow.SanitizeEscrow(rec)
	if err != nil {
		return nil, false, err
	}
	return sanitized, true, nil
}

// EscrowPut stores an escrow record.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	return m.put(escrowKey(sanitized.ID), sanitized)
}

// Balance returns the native balance of addr, zero when never written.
func (m *Manager) Balance(addr [20]byte) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := m.get(prefixedKey(balancePrefix, addr[:]), amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// SetBalance overwrites the native balance of addr.
func (m *Manager) SetBalance(addr [20]byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative balance for %x", addr)
	}
	return m.put(prefixedKey(balancePrefix, addr[:]), amount)
}

// Credit adds amount to the balance of addr.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	bal, err := m.Balance(addr)
	if err != nil {
		return err
	}
	return m.SetBalance(addr, bal.Add(bal, amount))
}

// Debit subtracts amount from the balance of addr.
func (m *Manager) Debit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	bal, err := m.Balance(addr)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, bal, amount)
	}
	return m.SetBalance(addr, bal.Sub(bal, amount))
}

// ErrInsufficientFunds is returned when a debit exceeds the balance.
var ErrInsufficientFunds = errors.New("state: insufficient funds")

// Nonce returns the next expected message nonce for addr.
func (m *Manager) Nonce(addr [20]byte) (uint64, error) {
	var nonce uint64
	if _, err := m.get(prefixedKey(noncePrefix, addr[:]), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// SetNonce records the next expected nonce for addr.
func (m *Manager) SetNonce(addr [20]byte, nonce uint64) error {
	return m.put(prefixedKey(noncePrefix, addr[:]), nonce)
}

// StoredEvent is an event together with its position in the ledger log.
type StoredEvent struct {
	Seq   uint64
	Event types.Event
}

type eventAttr struct {
	Key   string
	Value string
}

type eventRecord struct {
	Type  string
	Attrs []eventAttr
}

// EventHead returns the sequence number the next event will receive.
func (m *Manager) EventHead() (uint64, error) {
	var head uint64
	if _, err := m.get(eventHeadKey, &head); err != nil {
		return 0, err
	}
	return head, nil
}

// AppendEvents stores events at the end of the log and returns their
// sequence numbers.
func (m *Manager) AppendEvents(evts []types.Event) ([]StoredEvent, error) {
	head, err := m.EventHead()
	if err != nil {
		return nil, err
	}
	out := make([]StoredEvent, 0, len(evts))
	for _, evt := range evts {
		rec := eventRecord{Type: evt.Type}
		keys := make([]string, 0, len(evt.Attributes))
		for k := range evt.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rec.Attrs = append(rec.Attrs, eventAttr{Key: k, Value: evt.Attributes[k]})
		}
		if err := m.put(eventKey(head), rec); err != nil {
			return nil, err
		}
		out = append(out, StoredEvent{Seq: head, Event: evt})
		head++
	}
	if err := m.put(eventHeadKey, head); err != nil {
		return nil, err
	}
	return out, nil
}

// EventsSince returns up to limit events with sequence >= from.
func (m *Manager) EventsSince(from uint64, limit int) ([]StoredEvent, error) {
	head, err := m.EventHead()
	if err != nil {
		return nil, err
	}
	var out []StoredEvent
	for seq := from; seq < head && (limit <= 0 || len(out) < limit); seq++ {
		var rec eventRecord
		ok, err := m.get(eventKey(seq), &rec)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		attrs := make(map[string]string, len(rec.Attrs))
		for _, a := range rec.Attrs {
			attrs[a.Key] = a.Value
		}
		out = append(out, StoredEvent{Seq: seq, Event: types.Event{Type: rec.Type, Attributes: attrs}})
	}
	return out, nil
}
