package ir

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainItem  = "aosim/item/v1"
	DomainBlock = "aosim/block/v1"
)

// Encoding is the id/hash text encoding used throughout the ledger.
var Encoding = base64.RawURLEncoding

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return h.Sum(nil)
}

// decodeID returns the raw bytes behind an encoded id. Ids that are not
// valid base64url (hand-written test ids, for instance) hash as their text.
func decodeID(id string) []byte {
	if b, err := Encoding.DecodeString(id); err == nil {
		return b
	}
	return []byte(id)
}

// HashChain advances a process hash chain by one message:
// next = SHA256(prev || messageID) over the decoded id bytes.
// The chain of a process is seeded with the process id.
func HashChain(prev, messageID string) string {
	h := sha256.New()
	h.Write(decodeID(prev))
	h.Write(decodeID(messageID))
	return Encoding.EncodeToString(h.Sum(nil))
}

// FoldHashChain applies HashChain over ids in order starting from seed.
func FoldHashChain(seed string, ids []string) string {
	hash := seed
	for _, id := range ids {
		hash = HashChain(hash, id)
	}
	return hash
}

// ItemDigest is the message a signer signs for a data item.
// Signature and id are excluded; everything else is covered.
func ItemDigest(item *DataItem) ([]byte, error) {
	tags := make([]any, len(item.Tags))
	for i, t := range item.Tags {
		tags[i] = map[string]any{"name": t.Name, "value": t.Value}
	}
	obj := map[string]any{
		"owner":  item.OwnerKey,
		"target": item.Target,
		"anchor": item.Anchor,
		"tags":   tags,
		"data":   Encoding.EncodeToString(item.Data),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("ItemDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainItem, canonical), nil
}

// IDFromSignature derives an item id from its signature bytes.
func IDFromSignature(sig []byte) string {
	sum := sha256.Sum256(sig)
	return Encoding.EncodeToString(sum[:])
}

// AddressFromKey derives an owner address from a public key.
func AddressFromKey(pub []byte) string {
	sum := sha256.Sum256(pub)
	return Encoding.EncodeToString(sum[:])
}

// BlockID computes the id of a block from its position and contents.
func BlockID(height int64, previous string, txs []string) string {
	ids := make([]any, len(txs))
	for i, id := range txs {
		ids[i] = id
	}
	canonical, err := MarshalCanonical(map[string]any{
		"height":   strconv.FormatInt(height, 10),
		"previous": previous,
		"txs":      ids,
	})
	if err != nil {
		// Only strings reach the encoder.
		panic(fmt.Sprintf("BlockID: %v", err))
	}
	return Encoding.EncodeToString(hashWithDomain(DomainBlock, canonical))
}
