package execution

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

const (
	gcmIVLen  = 12
	gcmTagLen = 16
)

// WalletStore holds encrypted wallet keys and deployed Safe addresses
// behind separate RW locks, touched only at submission or deployment time
// (spec.md §4.12, §5).
type WalletStore struct {
	keyMu  sync.RWMutex
	keys   map[uint64][]byte // wallet_id -> encrypted payload (base64-decoded raw bytes not stored; see Put)

	safeMu sync.RWMutex
	safes  map[uint64]common.Address
}

// NewWalletStore returns an empty store.
func NewWalletStore() *WalletStore {
	return &WalletStore{
		keys:  make(map[uint64][]byte),
		safes: make(map[uint64]common.Address),
	}
}

// PutEncrypted registers the base64(iv‖tag‖ciphertext) payload for a
// wallet. The raw decoded bytes are kept only until Decrypt consumes them.
func (w *WalletStore) PutEncrypted(walletID uint64, base64Payload string) error {
	raw, err := base64.StdEncoding.DecodeString(base64Payload)
	if err != nil {
		return fmt.Errorf("decode wallet payload: %w", err)
	}
	w.keyMu.Lock()
	w.keys[walletID] = raw
	w.keyMu.Unlock()
	return nil
}

// SetSafeAddress records a wallet's deployed Safe address.
func (w *WalletStore) SetSafeAddress(walletID uint64, addr common.Address) {
	w.safeMu.Lock()
	w.safes[walletID] = addr
	w.safeMu.Unlock()
}

// SafeAddress returns the wallet's stored Safe address, if any.
func (w *WalletStore) SafeAddress(walletID uint64) (common.Address, bool) {
	w.safeMu.RLock()
	defer w.safeMu.RUnlock()
	addr, ok := w.safes[walletID]
	return addr, ok
}

// Decrypt derives a Signer for walletID using AES-256-GCM. The key is
// SHA-256(passphrase); the payload format is iv(12)‖tag(16)‖ciphertext,
// rearranged to ciphertext‖tag for the standard AEAD call. The decrypted
// plaintext is a hex-ASCII string that is hex-decoded to the 32-byte
// private key. Decrypted buffers are wiped immediately after use (spec.md
// §4.12).
func (w *WalletStore) Decrypt(walletID uint64, passphrase string) (*Signer, error) {
	w.keyMu.RLock()
	payload, ok := w.keys[walletID]
	w.keyMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no encrypted key for wallet %d", walletID)
	}
	if len(payload) < gcmIVLen+gcmTagLen {
		return nil, fmt.Errorf("malformed wallet payload for wallet %d", walletID)
	}

	iv := payload[:gcmIVLen]
	tag := payload[gcmIVLen : gcmIVLen+gcmTagLen]
	ciphertext := payload[gcmIVLen+gcmTagLen:]

	keyDigest := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(keyDigest[:32])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, gcmTagLen)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	rearranged := make([]byte, 0, len(ciphertext)+len(tag))
	rearranged = append(rearranged, ciphertext...)
	rearranged = append(rearranged, tag...)

	plaintext, err := gcm.Open(nil, iv, rearranged, nil)
	defer wipe(rearranged)
	if err != nil {
		return nil, fmt.Errorf("decrypt wallet key: %w", err)
	}
	defer wipe(plaintext)

	keyBytes, err := hex.DecodeString(string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("hex-decode decrypted key: %w", err)
	}
	defer wipe(keyBytes)

	return NewSigner(hex.EncodeToString(keyBytes))
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
