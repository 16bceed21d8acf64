package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sportsblock/sportsblock/internal/app/storage/memory"
	"github.com/sportsblock/sportsblock/internal/chain"
)

type fakeReader struct {
	head   uint64
	blocks map[uint64]*chain.Block
}

func (f *fakeReader) DynamicGlobalProperties(ctx context.Context) (*chain.GlobalProperties, error) {
	return &chain.GlobalProperties{
		HeadBlockNumber:          f.head,
		LastIrreversibleBlockNum: f.head,
	}, nil
}

func (f *fakeReader) GetBlock(ctx context.Context, num uint64) (*chain.Block, error) {
	return f.blocks[num], nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturePublisher) Publish(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) all() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func mustOp(t *testing.T, name string, payload any) chain.Operation {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return chain.Operation{Name: name, Payload: raw}
}

func blockWith(t *testing.T, txID string, ops ...chain.Operation) *chain.Block {
	t.Helper()
	return &chain.Block{
		Timestamp:      chain.Time{Time: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)},
		TransactionIDs: []string{txID},
		Transactions:   []chain.SignedTransaction{{Operations: ops}},
	}
}

func TestTickExtractsRelevantOperations(t *testing.T) {
	reader := &fakeReader{
		head: 11,
		blocks: map[uint64]*chain.Block{
			11: blockWith(t, "tx1",
				mustOp(t, "custom_json", map[string]any{
					"id":                     "sportsblock",
					"required_auths":         []string{},
					"required_posting_auths": []string{"alice"},
					"json":                   `{"action":"create_prediction"}`,
				}),
				mustOp(t, "custom_json", map[string]any{
					"id":                     "other_app",
					"required_posting_auths": []string{"mallory"},
				}),
				mustOp(t, "transfer", map[string]any{
					"from": "bob", "to": "sb.escrow", "amount": "5.000 HIVE", "memo": "stake:p1:home",
				}),
				mustOp(t, "transfer", map[string]any{
					"from": "bob", "to": "someone-else", "amount": "1.000 HIVE", "memo": "x",
				}),
				mustOp(t, "comment", map[string]any{
					"author": "carol", "permlink": "re-derby", "parent_author": "alice", "parent_permlink": "derby",
				}),
			),
		},
	}

	store := memory.New()
	if err := store.SaveCursor(context.Background(), "monitor", 10); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	pub := &capturePublisher{}
	m := New(reader, store, pub, Config{CustomJSONID: "sportsblock", EscrowAccount: "sb.escrow"}, nil)

	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	events := pub.all()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}

	if events[0].Kind != EventCustomJSON || events[0].Account != "alice" {
		t.Fatalf("unexpected custom_json event %+v", events[0])
	}
	if events[1].Kind != EventTransfer || events[1].Actor != "bob" || events[1].Ref != "stake:p1:home" {
		t.Fatalf("unexpected transfer event %+v", events[1])
	}
	if events[2].Kind != EventReply || events[2].Account != "alice" || events[2].Actor != "carol" {
		t.Fatalf("unexpected reply event %+v", events[2])
	}

	cursor, err := store.LoadCursor(context.Background(), "monitor")
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if cursor != 11 {
		t.Fatalf("expected cursor 11, got %d", cursor)
	}
}

func TestTickStartsAtHeadWithoutCursor(t *testing.T) {
	reader := &fakeReader{head: 500, blocks: map[uint64]*chain.Block{}}
	store := memory.New()
	pub := &capturePublisher{}

	m := New(reader, store, pub, Config{CustomJSONID: "sportsblock"}, nil)
	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(pub.all()) != 0 {
		t.Fatal("fresh monitor must not replay history")
	}

	// A new block after the first tick is picked up.
	reader.head = 501
	reader.blocks[501] = blockWith(t, "tx1", mustOp(t, "comment", map[string]any{
		"author": "alice", "permlink": "hello", "parent_author": "", "parent_permlink": "sportsblock",
	}))

	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	events := pub.all()
	if len(events) != 1 || events[0].Kind != EventComment {
		t.Fatalf("expected one comment event, got %+v", events)
	}
}

func TestTickBoundsCatchUpWork(t *testing.T) {
	blocks := map[uint64]*chain.Block{}
	for i := uint64(1); i <= 10; i++ {
		blocks[i] = blockWith(t, "tx", mustOp(t, "comment", map[string]any{
			"author": "alice", "permlink": "p", "parent_author": "",
		}))
	}
	reader := &fakeReader{head: 10, blocks: blocks}

	store := memory.New()
	if err := store.SaveCursor(context.Background(), "monitor", 0); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	pub := &capturePublisher{}

	m := New(reader, store, pub, Config{MaxBlocksPerTick: 3}, nil)
	// Cursor 0 means fresh start at head; force a known positive cursor.
	m.cursor = 0
	m.loaded = true

	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := len(pub.all()); got != 3 {
		t.Fatalf("expected 3 events after bounded tick, got %d", got)
	}

	cursor, _ := store.LoadCursor(context.Background(), "monitor")
	if cursor != 3 {
		t.Fatalf("expected cursor 3, got %d", cursor)
	}
}
