package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"nervix/core/events"
	"nervix/core/state"
	"nervix/core/types"
	"nervix/native/escrow"
	"nervix/observability"
	telemetry "nervix/observability/otel"
	"nervix/storage"
)

var (
	ErrInvalidNonce = errors.New("node: invalid nonce")
	ErrClosed       = errors.New("node: closed")
)

// Receipt is returned for every accepted message.
type Receipt struct {
	Sender  [20]byte
	Nonce   uint64
	Opcode  escrow.Opcode
	QueryID uint64
	Escrow  *escrow.Escrow
	Events  []state.StoredEvent
}

// Node is the single writer of the escrow ledger. Messages are applied one at
// a time; each either commits in full or leaves no trace beyond the consumed
// nonce.
type Node struct {
	db     storage.Database
	logger *slog.Logger
	nowFn  func() int64

	mu     sync.RWMutex
	closed bool

	subMu  sync.Mutex
	subs   map[int]chan state.StoredEvent
	nextID int
}

// Option customises a Node.
type Option func(*Node)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithNowFunc overrides the clock used for escrow timestamps.
func WithNowFunc(now func() int64) Option {
	return func(n *Node) {
		if now != nil {
			n.nowFn = now
		}
	}
}

// NewNode opens a node over db. The ledger must already hold genesis state.
func NewNode(db storage.Database, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: nil database")
	}
	n := &Node{
		db:     db,
		logger: slog.Default(),
		nowFn:  func() int64 { return time.Now().Unix() },
		subs:   make(map[int]chan state.StoredEvent),
	}
	for _, opt := range opts {
		opt(n)
	}
	params, err := state.NewManager(db).EscrowParams()
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	observability.Ledger().SetState(params.EscrowCount, params.Paused)
	return n, nil
}

func (n *Node) newDispatcher(manager *state.Manager, emitter events.Emitter) *escrow.Dispatcher {
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(n.nowFn)
	return escrow.NewDispatcher(engine)
}

// Submit authenticates, decodes and applies one signed message.
func (n *Node) Submit(ctx context.Context, msg *types.SignedMessage) (*Receipt, error) {
	if msg == nil {
		return nil, escrow.ErrMalformedMessage
	}
	sender, err := msg.From()
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	decoded, err := escrow.DecodeMessage(msg.Payload)
	if err != nil {
		return nil, err
	}
	value := msg.Value
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return nil, escrow.ErrInvalidAmount
	}
	op := decoded.Op.Opcode().String()

	_, span := telemetry.Tracer().Start(ctx, "escrow.apply")
	span.SetAttributes(attribute.String("escrow.op", op), attribute.Int64("escrow.query_id", int64(decoded.QueryID)))
	defer span.End()

	start := time.Now()
	receipt, err := n.apply(sender, msg.Nonce, value, decoded)
	result := "ok"
	if err != nil {
		result = escrow.KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}
	observability.Ledger().RecordOperation(op, result, time.Since(start))

	if err != nil {
		n.logger.Warn("escrow message rejected",
			slog.String("op", op),
			slog.String("sender", fmt.Sprintf("%x", sender)),
			slog.Uint64("query_id", decoded.QueryID),
			slog.Any("error", err))
		return nil, err
	}
	n.logger.Info("escrow message applied",
		slog.String("op", op),
		slog.String("sender", fmt.Sprintf("%x", sender)),
		slog.Uint64("query_id", decoded.QueryID),
		slog.Int("events", len(receipt.Events)))
	return receipt, nil
}

func (n *Node) apply(sender [20]byte, nonce uint64, value *big.Int, msg escrow.Message) (*Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}

	overlay := storage.NewOverlay(n.db)
	manager := state.NewManager(overlay)

	expected, err := manager.Nonce(sender)
	if err != nil {
		return nil, err
	}
	if nonce != expected {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidNonce, expected, nonce)
	}
	params, err := manager.EscrowParams()
	if err != nil {
		return nil, err
	}

	// Attached value moves to the vault before dispatch so the engine sees
	// it; any rejection below discards the move together with the rest.
	if err := manager.Debit(sender, value); err != nil {
		if errors.Is(err, state.ErrInsufficientFunds) {
			return nil, fmt.Errorf("%w: %v", escrow.ErrInsufficientValue, err)
		}
		return nil, err
	}
	if err := manager.Credit(params.Vault, value); err != nil {
		return nil, err
	}

	buffer := &events.Buffer{}
	dispatcher := n.newDispatcher(manager, buffer)
	result, applyErr := dispatcher.Apply(escrow.Context{Caller: sender, Value: value}, msg)
	if applyErr != nil {
		overlay.Discard()
		if err := manager.SetNonce(sender, nonce+1); err != nil {
			return nil, err
		}
		if err := overlay.Commit(); err != nil {
			return nil, err
		}
		return nil, applyErr
	}

	if err := manager.SetNonce(sender, nonce+1); err != nil {
		return nil, err
	}
	stored, err := manager.AppendEvents(buffer.Events())
	if err != nil {
		return nil, err
	}
	after, err := manager.EscrowParams()
	if err != nil {
		return nil, err
	}
	if err := overlay.Commit(); err != nil {
		return nil, fmt.Errorf("node: commit: %w", err)
	}

	ledger := observability.Ledger()
	ledger.SetState(after.EscrowCount, after.Paused)
	ledger.RecordFee(new(big.Int).Sub(after.TotalFeesCollected, params.TotalFeesCollected))
	for _, evt := range stored {
		observability.Events().RecordEvent(evt.Event.Type)
	}
	// Published under the write lock so subscribers see sequence order.
	n.publish(stored)

	return &Receipt{
		Sender:  sender,
		Nonce:   nonce,
		Opcode:  result.Opcode,
		QueryID: result.QueryID,
		Escrow:  result.Escrow,
		Events:  stored,
	}, nil
}

// Close stops accepting messages and closes event subscriptions.
func (n *Node) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	n.subMu.Lock()
	for id, ch := range n.subs {
		close(ch)
		delete(n.subs, id)
	}
	n.subMu.Unlock()
}

// Subscribe returns a channel of committed events and a cancel function.
// Events arrive in sequence order. Slow subscribers miss events rather than
// block the ledger; they can catch up with EventsSince.
func (n *Node) Subscribe(buffer int) (<-chan state.StoredEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan state.StoredEvent, buffer)
	n.subMu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.subMu.Unlock()
	return ch, func() {
		n.subMu.Lock()
		if existing, ok := n.subs[id]; ok {
			close(existing)
			delete(n.subs, id)
		}
		n.subMu.Unlock()
	}
}

func (n *Node) publish(evts []state.StoredEvent) {
	if len(evts) == 0 {
		return
	}
	n.subMu.Lock()
	defer n.subMu.Unlock()
	for _, ch := range n.subs {
		for _, evt := range evts {
			select {
			case ch <- evt:
			default:
			}
		}
	}
}
