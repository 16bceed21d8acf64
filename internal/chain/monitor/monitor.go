// Package monitor polls the chain for blocks and turns operations relevant
// to the platform into events on a publisher.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sportsblock/sportsblock/internal/app/storage"
	"github.com/sportsblock/sportsblock/internal/chain"
	"github.com/sportsblock/sportsblock/internal/system"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

// Event kinds emitted by the monitor.
const (
	EventCustomJSON = "custom_json"
	EventComment    = "comment"
	EventReply      = "reply"
	EventTransfer   = "transfer"
)

// Event is one chain operation of interest.
type Event struct {
	Kind      string          `json:"kind"`
	Block     uint64          `json:"block"`
	TxID      string          `json:"tx_id"`
	Account   string          `json:"account"`
	Actor     string          `json:"actor"`
	Ref       string          `json:"ref"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher receives extracted events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// ChainReader is the subset of the chain client the monitor needs.
type ChainReader interface {
	DynamicGlobalProperties(ctx context.Context) (*chain.GlobalProperties, error)
	GetBlock(ctx context.Context, num uint64) (*chain.Block, error)
}

// Config tunes the monitor.
type Config struct {
	// CustomJSONID filters custom_json operations; only ops with this id are
	// emitted.
	CustomJSONID string
	// EscrowAccount filters transfer operations to the platform escrow.
	EscrowAccount string
	// CursorName keys the persisted block position.
	CursorName string
	// Interval between polls. Hive produces a block every 3 seconds.
	Interval time.Duration
	// MaxBlocksPerTick bounds catch-up work in a single tick.
	MaxBlocksPerTick int
}

var _ system.Service = (*Monitor)(nil)

// Monitor is a lifecycle-managed block poller.
type Monitor struct {
	reader    ChainReader
	cursors   storage.CursorStore
	publisher Publisher
	cfg       Config
	log       *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	cursor  uint64
	loaded  bool
}

// New constructs a Monitor.
func New(reader ChainReader, cursors storage.CursorStore, publisher Publisher, cfg Config, log *logger.Logger) *Monitor {
	if log == nil {
		log = logger.NewDefault("chain-monitor")
	}
	if cfg.CursorName == "" {
		cfg.CursorName = "monitor"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.MaxBlocksPerTick <= 0 {
		cfg.MaxBlocksPerTick = 100
	}
	return &Monitor{
		reader:    reader,
		cursors:   cursors,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

func (m *Monitor) Name() string { return "chain-monitor" }

func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := m.tick(runCtx); err != nil {
					m.log.WithError(err).Warn("monitor tick failed")
				}
			}
		}
	}()

	m.log.WithField("cursor", m.cfg.CursorName).Info("chain monitor started")
	return nil
}

func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.log.Info("chain monitor stopped")
	return nil
}

func (m *Monitor) tick(ctx context.Context) error {
	props, err := m.reader.DynamicGlobalProperties(ctx)
	if err != nil {
		return fmt.Errorf("global properties: %w", err)
	}

	cursor, err := m.loadCursor(ctx, props.LastIrreversibleBlockNum)
	if err != nil {
		return err
	}

	head := props.LastIrreversibleBlockNum
	if head <= cursor {
		return nil
	}

	processed := 0
	for num := cursor + 1; num <= head && processed < m.cfg.MaxBlocksPerTick; num++ {
		block, err := m.reader.GetBlock(ctx, num)
		if err != nil {
			return fmt.Errorf("get block %d: %w", num, err)
		}
		if block != nil {
			m.emitBlock(ctx, num, block)
		}
		cursor = num
		processed++
	}

	return m.saveCursor(ctx, cursor)
}

// loadCursor reads the persisted position once, then works from memory. A
// fresh deployment starts at the irreversible head rather than block one.
func (m *Monitor) loadCursor(ctx context.Context, head uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return m.cursor, nil
	}
	cursor, err := m.cursors.LoadCursor(ctx, m.cfg.CursorName)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if cursor == 0 {
		cursor = head
	}
	m.cursor = cursor
	m.loaded = true
	return cursor, nil
}

func (m *Monitor) saveCursor(ctx context.Context, cursor uint64) error {
	m.mu.Lock()
	m.cursor = cursor
	m.mu.Unlock()

	if err := m.cursors.SaveCursor(ctx, m.cfg.CursorName, cursor); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func (m *Monitor) emitBlock(ctx context.Context, num uint64, block *chain.Block) {
	for i, tx := range block.Transactions {
		txID := ""
		if i < len(block.TransactionIDs) {
			txID = block.TransactionIDs[i]
		}
		for _, op := range tx.Operations {
			ev, ok := m.extract(num, txID, block.Timestamp.Time, op)
			if !ok {
				continue
			}
			if err := m.publisher.Publish(ctx, ev); err != nil {
				m.log.WithError(err).
					WithField("kind", ev.Kind).
					WithField("block", num).
					Warn("publish event failed")
			}
		}
	}
}

// extract classifies one operation. Only operations addressed to the
// platform are emitted.
func (m *Monitor) extract(block uint64, txID string, ts time.Time, op chain.Operation) (Event, bool) {
	ev := Event{
		Block:     block,
		TxID:      txID,
		Data:      op.Payload,
		Timestamp: ts,
	}

	switch op.Name {
	case "custom_json":
		if gjson.GetBytes(op.Payload, "id").String() != m.cfg.CustomJSONID {
			return Event{}, false
		}
		ev.Kind = EventCustomJSON
		ev.Account = firstAuth(op.Payload)
		ev.Actor = ev.Account
		ev.Ref = gjson.GetBytes(op.Payload, "id").String()
		return ev, true

	case "comment":
		author := gjson.GetBytes(op.Payload, "author").String()
		parentAuthor := gjson.GetBytes(op.Payload, "parent_author").String()
		ev.Actor = author
		ev.Ref = author + "/" + gjson.GetBytes(op.Payload, "permlink").String()
		if parentAuthor != "" {
			ev.Kind = EventReply
			ev.Account = parentAuthor
		} else {
			ev.Kind = EventComment
			ev.Account = author
		}
		return ev, true

	case "transfer":
		if m.cfg.EscrowAccount == "" || gjson.GetBytes(op.Payload, "to").String() != m.cfg.EscrowAccount {
			return Event{}, false
		}
		ev.Kind = EventTransfer
		ev.Account = m.cfg.EscrowAccount
		ev.Actor = gjson.GetBytes(op.Payload, "from").String()
		ev.Ref = gjson.GetBytes(op.Payload, "memo").String()
		return ev, true
	}

	return Event{}, false
}

func firstAuth(payload []byte) string {
	if auths := gjson.GetBytes(payload, "required_posting_auths"); auths.Exists() {
		if arr := auths.Array(); len(arr) > 0 {
			return arr[0].String()
		}
	}
	if auths := gjson.GetBytes(payload, "required_auths"); auths.Exists() {
		if arr := auths.Array(); len(arr) > 0 {
			return arr[0].String()
		}
	}
	return ""
}
