package execution

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

// encryptForTest builds the base64(iv‖tag‖ciphertext) payload the way the
// producing side would, given the reverse of WalletStore.Decrypt's
// ciphertext‖tag rearrangement.
func encryptForTest(t *testing.T, passphrase, hexPrivateKey string) string {
	t.Helper()
	keyDigest := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(keyDigest[:32])
	if err != nil {
		t.Fatal(err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, gcmTagLen)
	if err != nil {
		t.Fatal(err)
	}

	iv := make([]byte, gcmIVLen)
	if _, err := rand.Read(iv); err != nil {
		t.Fatal(err)
	}

	plaintext := []byte(hexPrivateKey)
	sealed := gcm.Seal(nil, iv, plaintext, nil) // ciphertext‖tag
	ciphertext := sealed[:len(sealed)-gcmTagLen]
	tag := sealed[len(sealed)-gcmTagLen:]

	payload := append(append(append([]byte{}, iv...), tag...), ciphertext...)
	return base64.StdEncoding.EncodeToString(payload)
}

func TestWalletStoreDecryptRoundTrip(t *testing.T) {
	t.Parallel()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	hexKey := hex.EncodeToString(crypto.FromECDSA(key))

	payload := encryptForTest(t, "correct horse battery staple", hexKey)

	store := NewWalletStore()
	if err := store.PutEncrypted(42, payload); err != nil {
		t.Fatalf("PutEncrypted: %v", err)
	}

	signer, err := store.Decrypt(42, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	wantAddr := crypto.PubkeyToAddress(key.PublicKey)
	if signer.Address() != wantAddr {
		t.Errorf("decrypted signer address = %v, want %v", signer.Address(), wantAddr)
	}
}

func TestWalletStoreDecryptWrongPassphrase(t *testing.T) {
	t.Parallel()
	key, _ := crypto.GenerateKey()
	hexKey := hex.EncodeToString(crypto.FromECDSA(key))
	payload := encryptForTest(t, "right-pass", hexKey)

	store := NewWalletStore()
	_ = store.PutEncrypted(1, payload)

	if _, err := store.Decrypt(1, "wrong-pass"); err == nil {
		t.Error("expected decryption failure with wrong passphrase")
	}
}

func TestWalletStoreDecryptUnknownWallet(t *testing.T) {
	t.Parallel()
	store := NewWalletStore()
	if _, err := store.Decrypt(99, "anything"); err == nil {
		t.Error("expected error for unknown wallet id")
	}
}
