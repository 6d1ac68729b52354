// Package bundle signs and verifies ledger data items.
//
// A Wallet holds an ed25519 key. Item ids are base64url(sha256(signature))
// and owner addresses are base64url(sha256(public key)), so both are stable
// for a given key and payload.
package bundle

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/roach88/aosim/internal/ir"
)

// Signer produces signed data items. The engine signs every spawn, message
// and assignment it posts through a Signer.
type Signer interface {
	Address() string
	Sign(ctx context.Context, data []byte, tags ir.Tags, target string) (ir.DataItem, error)
}

// Wallet is an ed25519 Signer.
type Wallet struct {
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	address string
	anchor  func() (string, error)
}

// WalletOption configures a Wallet.
type WalletOption func(*Wallet)

// WithDeterministicAnchors replaces random anchors with a per-wallet
// counter, making item ids reproducible across runs over a fresh ledger.
func WithDeterministicAnchors() WalletOption {
	return func(w *Wallet) {
		var n atomic.Uint64
		w.anchor = func() (string, error) {
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], n.Add(1))
			return ir.Encoding.EncodeToString(buf[:]), nil
		}
	}
}

// GenerateWallet creates a wallet with a fresh random key.
func GenerateWallet(opts ...WalletOption) (*Wallet, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate wallet: %w", err)
	}
	return newWallet(seed, opts...), nil
}

// WalletFromSeed derives a wallet from arbitrary seed bytes.
// The same seed always yields the same address.
func WalletFromSeed(seed []byte, opts ...WalletOption) *Wallet {
	sum := sha256.Sum256(seed)
	return newWallet(sum[:], opts...)
}

func newWallet(seed []byte, opts ...WalletOption) *Wallet {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	w := &Wallet{
		priv:    priv,
		pub:     pub,
		address: ir.AddressFromKey(pub),
		anchor:  randomAnchor,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func randomAnchor() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return ir.Encoding.EncodeToString(buf), nil
}

// Address returns the owner address of items signed by this wallet.
func (w *Wallet) Address() string {
	return w.address
}

// PublicKey returns the encoded public key.
func (w *Wallet) PublicKey() string {
	return ir.Encoding.EncodeToString(w.pub)
}

// Sign builds and signs a data item.
func (w *Wallet) Sign(_ context.Context, data []byte, tags ir.Tags, target string) (ir.DataItem, error) {
	anchor, err := w.anchor()
	if err != nil {
		return ir.DataItem{}, fmt.Errorf("sign: anchor: %w", err)
	}

	item := ir.DataItem{
		Owner:    w.address,
		OwnerKey: w.PublicKey(),
		Target:   target,
		Anchor:   anchor,
		Tags:     tags.Clone(),
		Data:     data,
	}
	digest, err := ir.ItemDigest(&item)
	if err != nil {
		return ir.DataItem{}, fmt.Errorf("sign: %w", err)
	}

	sig := ed25519.Sign(w.priv, digest)
	item.Signature = ir.Encoding.EncodeToString(sig)
	item.ID = ir.IDFromSignature(sig)
	return item, nil
}

// Verification failures.
var (
	ErrBadSignature = errors.New("bundle: signature does not verify")
	ErrBadOwner     = errors.New("bundle: owner does not match key")
	ErrBadID        = errors.New("bundle: id does not match signature")
)

// Verify checks an item's signature, owner address and id.
func Verify(item ir.DataItem) error {
	pub, err := ir.Encoding.DecodeString(item.OwnerKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: malformed key", ErrBadSignature)
	}
	sig, err := ir.Encoding.DecodeString(item.Signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", ErrBadSignature)
	}
	if ir.AddressFromKey(pub) != item.Owner {
		return ErrBadOwner
	}
	if ir.IDFromSignature(sig) != item.ID {
		return ErrBadID
	}

	digest, err := ir.ItemDigest(&item)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if !ed25519.Verify(pub, digest, sig) {
		return ErrBadSignature
	}
	return nil
}

// walletFile is the on-disk wallet format.
type walletFile struct {
	Kty  string `json:"kty"`
	Seed string `json:"seed"`
}

// LoadWallet reads a wallet written by SaveWallet.
func LoadWallet(path string, opts ...WalletOption) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	var f walletFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", path, err)
	}
	if f.Kty != "ed25519" {
		return nil, fmt.Errorf("load wallet %s: unsupported key type %q", path, f.Kty)
	}
	seed, err := ir.Encoding.DecodeString(f.Seed)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("load wallet %s: malformed seed", path)
	}
	return newWallet(seed, opts...), nil
}

// SaveWallet writes the wallet key to path with owner-only permissions.
func SaveWallet(path string, w *Wallet) error {
	data, err := json.MarshalIndent(walletFile{
		Kty:  "ed25519",
		Seed: ir.Encoding.EncodeToString(w.priv.Seed()),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("save wallet: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("save wallet: %w", err)
	}
	return nil
}
