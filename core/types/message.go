package types

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	ErrMissingSignature = errors.New("message: missing signature")
	ErrInvalidSignature = errors.New("message: invalid signature")
)

// SignedMessage carries an encoded escrow operation together with the native
// value attached to it. The payload is opaque to this package; the escrow
// dispatcher decodes it at the ledger boundary.
type SignedMessage struct {
	Payload []byte   `json:"payload"`
	Value   *big.Int `json:"value"`
	Nonce   uint64   `json:"nonce"`

	R, S, V *big.Int `json:"r"`

	from []byte
}

// Hash returns keccak256 over the RLP encoding of the signed fields.
func (m *SignedMessage) Hash() ([]byte, error) {
	value := m.Value
	if value == nil {
		value = big.NewInt(0)
	}
	payload := struct {
		Payload []byte
		Value   *big.Int
		Nonce   uint64
	}{m.Payload, value, m.Nonce}
	enc, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(enc), nil
}

// Sign attaches a secp256k1 signature produced by key.
func (m *SignedMessage) Sign(key *ecdsa.PrivateKey) error {
	hash, err := m.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return err
	}
	m.R = new(big.Int).SetBytes(sig[:32])
	m.S = new(big.Int).SetBytes(sig[32:64])
	m.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	m.from = nil
	return nil
}

// From recovers the 20-byte sender address from the signature.
func (m *SignedMessage) From() ([20]byte, error) {
	var out [20]byte
	if m.from != nil {
		copy(out[:], m.from)
		return out, nil
	}
	if m.R == nil || m.S == nil || m.V == nil {
		return out, ErrMissingSignature
	}
	if m.R.BitLen() > 256 || m.S.BitLen() > 256 || !m.V.IsUint64() || m.V.Uint64() < 27 || m.V.Uint64() > 28 {
		return out, ErrInvalidSignature
	}
	hash, err := m.Hash()
	if err != nil {
		return out, err
	}
	sig := make([]byte, 65)
	m.R.FillBytes(sig[:32])
	m.S.FillBytes(sig[32:64])
	sig[64] = byte(m.V.Uint64() - 27)
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return out, ErrInvalidSignature
	}
	m.from = crypto.PubkeyToAddress(*pub).Bytes()
	copy(out[:], m.from)
	return out, nil
}
