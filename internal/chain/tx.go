package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Operation is a Hive operation, encoded on the wire as [name, payload].
type Operation struct {
	Name    string
	Payload json.RawMessage
}

func (o Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{o.Name, o.Payload})
}

func (o *Operation) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("operation must be a [name, payload] pair, got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &o.Name); err != nil {
		return err
	}
	o.Payload = pair[1]
	return nil
}

// Decode unmarshals the operation payload into v.
func (o *Operation) Decode(v any) error {
	return json.Unmarshal(o.Payload, v)
}

func newOperation(name string, payload any) (Operation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Operation{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Operation{Name: name, Payload: raw}, nil
}

// CustomJSONPayload is the payload of a custom_json operation.
type CustomJSONPayload struct {
	RequiredAuths        []string `json:"required_auths"`
	RequiredPostingAuths []string `json:"required_posting_auths"`
	ID                   string   `json:"id"`
	JSON                 string   `json:"json"`
}

// NewCustomJSONOp builds a custom_json operation. body is marshaled into the
// embedded JSON string.
func NewCustomJSONOp(id string, requiredAuths, postingAuths []string, body any) (Operation, error) {
	inner, err := json.Marshal(body)
	if err != nil {
		return Operation{}, fmt.Errorf("encode custom_json body: %w", err)
	}
	if requiredAuths == nil {
		requiredAuths = []string{}
	}
	if postingAuths == nil {
		postingAuths = []string{}
	}
	return newOperation("custom_json", CustomJSONPayload{
		RequiredAuths:        requiredAuths,
		RequiredPostingAuths: postingAuths,
		ID:                   id,
		JSON:                 string(inner),
	})
}

// TransferPayload is the payload of a transfer operation.
type TransferPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount Asset  `json:"amount"`
	Memo   string `json:"memo"`
}

// NewTransferOp builds a transfer operation.
func NewTransferOp(from, to string, amount Asset, memo string) (Operation, error) {
	return newOperation("transfer", TransferPayload{From: from, To: to, Amount: amount, Memo: memo})
}

// CommentPayload is the payload of a comment operation (posts and replies).
type CommentPayload struct {
	ParentAuthor   string `json:"parent_author"`
	ParentPermlink string `json:"parent_permlink"`
	Author         string `json:"author"`
	Permlink       string `json:"permlink"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	JSONMetadata   string `json:"json_metadata"`
}

// NewCommentOp builds a comment operation. For a top-level post, parentAuthor
// is empty and parentPermlink is the community or first tag.
func NewCommentOp(p CommentPayload) (Operation, error) {
	return newOperation("comment", p)
}

// Transaction is an outgoing transaction under construction.
type Transaction struct {
	RefBlockNum    uint32      `json:"ref_block_num"`
	RefBlockPrefix uint32      `json:"ref_block_prefix"`
	Expiration     Time        `json:"expiration"`
	Operations     []Operation `json:"operations"`
	Extensions     []any       `json:"extensions"`
	Signatures     []string    `json:"signatures"`
}

// NewTransaction builds an unsigned transaction anchored to the current head
// block, expiring after ttl.
func NewTransaction(props *GlobalProperties, ttl time.Duration) (*Transaction, error) {
	idBytes, err := hex.DecodeString(props.HeadBlockID)
	if err != nil {
		return nil, fmt.Errorf("decode head block id: %w", err)
	}
	if len(idBytes) < 8 {
		return nil, fmt.Errorf("head block id too short: %d bytes", len(idBytes))
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Transaction{
		RefBlockNum:    uint32(props.HeadBlockNumber & 0xFFFF),
		RefBlockPrefix: binary.LittleEndian.Uint32(idBytes[4:8]),
		Expiration:     Time{props.Time.Add(ttl)},
		Extensions:     []any{},
		Signatures:     []string{},
	}, nil
}

// AddOperation appends op to the transaction.
func (t *Transaction) AddOperation(op Operation) {
	t.Operations = append(t.Operations, op)
}

// Digest computes the signing digest: sha256 over the chain ID followed by
// the canonical transaction encoding without signatures.
func (t *Transaction) Digest(chainID string) ([]byte, error) {
	prefix, err := hex.DecodeString(chainID)
	if err != nil {
		return nil, fmt.Errorf("decode chain id: %w", err)
	}

	unsigned := *t
	unsigned.Signatures = nil
	encoded, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}

	h := sha256.New()
	h.Write(prefix)
	h.Write(encoded)
	return h.Sum(nil), nil
}

// Signer produces a recoverable signature over a transaction digest. Key
// material stays behind the interface.
type Signer interface {
	Sign(digest []byte) (string, error)
	PublicKey() string
}

// Sign computes the digest for chainID and appends the signer's signature.
func (t *Transaction) Sign(chainID string, signer Signer) error {
	digest, err := t.Digest(chainID)
	if err != nil {
		return err
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	t.Signatures = append(t.Signatures, sig)
	return nil
}
