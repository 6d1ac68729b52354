package weavedrive

import (
	"encoding/json"
	"strconv"

	"github.com/roach88/aosim/internal/ir"
)

// TxDocument is the header served for tx/<id>. The gateway serves it
// without OwnerAddress; the drive fills it in.
type TxDocument struct {
	ID           string  `json:"id"`
	Owner        string  `json:"owner"`
	OwnerAddress string  `json:"ownerAddress,omitempty"`
	Target       string  `json:"target"`
	Anchor       string  `json:"anchor"`
	Tags         ir.Tags `json:"tags"`
	DataSize     string  `json:"data_size"`
	Signature    string  `json:"signature"`
}

// NewTxDocument builds the header document of a transaction.
func NewTxDocument(tx *ir.Transaction) TxDocument {
	tags := tx.Tags
	if tags == nil {
		tags = ir.Tags{}
	}
	return TxDocument{
		ID:        tx.ID,
		Owner:     tx.OwnerKey,
		Target:    tx.Target,
		Anchor:    tx.Anchor,
		Tags:      tags,
		DataSize:  strconv.FormatInt(tx.DataSize, 10),
		Signature: tx.Signature,
	}
}

// Transaction converts the document back to a header-only transaction.
func (d TxDocument) Transaction() (*ir.Transaction, error) {
	size, err := strconv.ParseInt(d.DataSize, 10, 64)
	if err != nil && d.DataSize != "" {
		return nil, err
	}
	owner := d.OwnerAddress
	if owner == "" {
		owner = ownerAddress(d.Owner)
	}
	return &ir.Transaction{
		ID:        d.ID,
		Owner:     owner,
		OwnerKey:  d.Owner,
		Target:    d.Target,
		Anchor:    d.Anchor,
		Tags:      d.Tags,
		DataSize:  size,
		Signature: d.Signature,
	}, nil
}

// ownerAddress hashes an encoded owner key into its address. Keys that do
// not decode are hashed as text.
func ownerAddress(key string) string {
	raw, err := ir.Encoding.DecodeString(key)
	if err != nil {
		raw = []byte(key)
	}
	return ir.AddressFromKey(raw)
}

// itemNode is the header served for tx2/<id>, shaped like a gateway
// GraphQL transaction node.
type itemNode struct {
	Format    int        `json:"format"`
	ID        string     `json:"id"`
	Anchor    string     `json:"anchor"`
	Signature string     `json:"signature"`
	Recipient string     `json:"recipient"`
	Owner     nodeOwner  `json:"owner"`
	Fee       nodeAmount `json:"fee"`
	Quantity  nodeAmount `json:"quantity"`
	Data      nodeData   `json:"data"`
	Tags      ir.Tags    `json:"tags"`
	Block     *nodeBlock `json:"block"`
}

type nodeOwner struct {
	Address string `json:"address"`
	Key     string `json:"key"`
}

type nodeAmount struct {
	AR      string `json:"ar"`
	Winston string `json:"winston"`
}

type nodeData struct {
	Size string `json:"size"`
}

type nodeBlock struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Height    int64  `json:"height"`
	Previous  string `json:"previous"`
}

// itemFormat is the header format reported for data items.
const itemFormat = 3

func newItemNode(tx *ir.Transaction, block *ir.Block) itemNode {
	tags := tx.Tags
	if tags == nil {
		tags = ir.Tags{}
	}
	n := itemNode{
		Format:    itemFormat,
		ID:        tx.ID,
		Anchor:    tx.Anchor,
		Signature: tx.Signature,
		Recipient: tx.Target,
		Owner:     nodeOwner{Address: tx.Owner, Key: tx.OwnerKey},
		Fee:       nodeAmount{AR: "0", Winston: "0"},
		Quantity:  nodeAmount{AR: "0", Winston: "0"},
		Data:      nodeData{Size: strconv.FormatInt(tx.DataSize, 10)},
		Tags:      tags,
	}
	if block != nil {
		n.Block = &nodeBlock{
			ID:        block.ID,
			Timestamp: block.Timestamp,
			Height:    block.Height,
			Previous:  block.Previous,
		}
	}
	return n
}

func encodeTxDocument(tx *ir.Transaction) ([]byte, error) {
	doc := NewTxDocument(tx)
	doc.OwnerAddress = tx.Owner
	return json.Marshal(doc)
}

func encodeItemNode(tx *ir.Transaction, block *ir.Block) ([]byte, error) {
	return json.Marshal(newItemNode(tx, block))
}

func encodeBlock(b *ir.Block) ([]byte, error) {
	return json.Marshal(b)
}
