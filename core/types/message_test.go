package types

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestSignedMessageRecoversSender(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := &SignedMessage{Payload: []byte{0x4e, 0x56, 0x58, 0x31}, Value: big.NewInt(42), Nonce: 7}
	if err := msg.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	from, err := msg.From()
	if err != nil {
		t.Fatalf("from: %v", err)
	}
	want := crypto.PubkeyToAddress(key.PublicKey)
	if from != [20]byte(want) {
		t.Fatalf("sender mismatch: want %x got %x", want, from)
	}
}

func TestSignedMessageTamperChangesSender(t *testing.T) {
	key, _ := crypto.GenerateKey()
	msg := &SignedMessage{Payload: []byte{1}, Value: big.NewInt(1), Nonce: 1}
	if err := msg.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	tampered := &SignedMessage{Payload: []byte{1}, Value: big.NewInt(1_000), Nonce: 1, R: msg.R, S: msg.S, V: msg.V}
	from, err := tampered.From()
	if err == nil && from == [20]byte(crypto.PubkeyToAddress(key.PublicKey)) {
		t.Fatalf("tampered value must not recover the original signer")
	}
}

func TestSignedMessageRequiresSignature(t *testing.T) {
	msg := &SignedMessage{Payload: []byte{1}}
	if _, err := msg.From(); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected missing signature, got %v", err)
	}
}
