package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
)

const (
	relayerPollAttempts = 60
	relayerPollInterval = 2 * time.Second
)

// Relayer deploys a Safe smart-contract wallet per user on first use
// (spec.md §4.11).
type Relayer struct {
	client      *resty.Client
	wallets     *WalletStore
	safeFactory string
	initCodeHash []byte // keccak256 of the Safe proxy init code
	creds       BuilderCreds
	encryptPass string
	quoteToken  string // USDC contract address
	exchanges   [2]string
}

// NewRelayer builds a Safe-deployment relayer client.
func NewRelayer(baseURL, safeFactory string, initCodeHash []byte, wallets *WalletStore, creds BuilderCreds, encryptionPassphrase, quoteToken string, exchanges [2]string) *Relayer {
	return &Relayer{
		client:       resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		wallets:      wallets,
		safeFactory:  safeFactory,
		initCodeHash: initCodeHash,
		creds:        creds,
		encryptPass:  encryptionPassphrase,
		quoteToken:   quoteToken,
		exchanges:    exchanges,
	}
}

// DeriveSafeAddress computes the deterministic CREATE2 Safe address for
// owner: salt = keccak256(pad32(owner)), address = keccak256(0xff ‖
// factory ‖ salt ‖ init_code_hash)[12:] (spec.md §4.11).
func DeriveSafeAddress(factory common.Address, owner common.Address, initCodeHash []byte) common.Address {
	salt := crypto.Keccak256(common.LeftPadBytes(owner.Bytes(), 32))

	data := make([]byte, 0, 1+20+32+32)
	data = append(data, 0xff)
	data = append(data, factory.Bytes()...)
	data = append(data, salt...)
	data = append(data, initCodeHash...)

	hash := crypto.Keccak256(data)
	return common.BytesToAddress(hash[12:])
}

// EnsureDeployed derives the Safe address for walletID, checks whether it
// is already deployed, and if not, signs and submits a SAFE-CREATE
// transaction, polling for a terminal relayer state. On success it stores
// the Safe address and submits the two quote-currency approve() calls.
func (r *Relayer) EnsureDeployed(ctx context.Context, walletID uint64) (common.Address, error) {
	signer, err := r.wallets.Decrypt(walletID, r.encryptPass)
	if err != nil {
		return common.Address{}, fmt.Errorf("resolve signer: %w", err)
	}

	factory := common.HexToAddress(r.safeFactory)
	safeAddr := DeriveSafeAddress(factory, signer.Address(), r.initCodeHash)

	deployed, err := r.isDeployed(ctx, safeAddr)
	if err != nil {
		return common.Address{}, fmt.Errorf("check deployed: %w", err)
	}
	if deployed {
		r.wallets.SetSafeAddress(walletID, safeAddr)
		return safeAddr, nil
	}

	sig, err := signer.SignCreateProxy(r.safeFactory)
	if err != nil {
		return common.Address{}, fmt.Errorf("sign create proxy: %w", err)
	}

	txID, err := r.submit(ctx, signer.Address().Hex(), "SAFE-CREATE", sig, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("submit safe-create: %w", err)
	}

	if err := r.pollTerminal(ctx, txID); err != nil {
		return common.Address{}, err
	}

	r.wallets.SetSafeAddress(walletID, safeAddr)

	for _, spender := range r.exchanges {
		if err := r.approveMax(ctx, signer, safeAddr, spender); err != nil {
			return safeAddr, fmt.Errorf("approve %s: %w", spender, err)
		}
	}
	return safeAddr, nil
}

func (r *Relayer) isDeployed(ctx context.Context, addr common.Address) (bool, error) {
	var out struct {
		Deployed bool `json:"deployed"`
	}
	resp, err := r.client.R().SetContext(ctx).SetQueryParam("address", addr.Hex()).SetResult(&out).Get("/deployed")
	if err != nil {
		return false, err
	}
	if resp.IsError() {
		return false, fmt.Errorf("status %d", resp.StatusCode())
	}
	return out.Deployed, nil
}

// approveMax submits an approve(spender, MAX_UINT256) ERC-20 call for the
// quote-currency token, authenticated the same way as a Safe-create
// submission.
func (r *Relayer) approveMax(ctx context.Context, signer *Signer, safeAddr common.Address, spender string) error {
	const maxUint256 = "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	payload := map[string]string{
		"token":   r.quoteToken,
		"spender": spender,
		"amount":  maxUint256,
		"from":    safeAddr.Hex(),
	}
	txID, err := r.submit(ctx, signer.Address().Hex(), "APPROVE", "", payload)
	if err != nil {
		return err
	}
	return r.pollTerminal(ctx, txID)
}

func (r *Relayer) submit(ctx context.Context, address, txType, signature string, extra map[string]string) (string, error) {
	body := map[string]interface{}{
		"address":   address,
		"type":      txType,
		"signature": signature,
	}
	for k, v := range extra {
		body[k] = v
	}
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	hmacSig, err := BuildHMAC(r.creds.Secret, timestamp, "POST", "/submit", string(bodyJSON))
	if err != nil {
		return "", err
	}

	var out struct {
		TransactionID string `json:"transactionID"`
	}
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeaders(map[string]string{
			"POLY_ADDRESS":    address,
			"POLY_SIGNATURE":  hmacSig,
			"POLY_TIMESTAMP":  timestamp,
			"POLY_API_KEY":    r.creds.APIKey,
			"POLY_PASSPHRASE": r.creds.Passphrase,
		}).
		SetBody(bodyJSON).
		SetResult(&out).
		Post("/submit")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("relayer submit status %d: %s", resp.StatusCode(), resp.Body())
	}
	return out.TransactionID, nil
}

// pollTerminal polls GET /transaction?id=… every 2s up to 60 attempts for
// a terminal mined/confirmed/executed state (spec.md §4.11).
func (r *Relayer) pollTerminal(ctx context.Context, txID string) error {
	for attempt := 0; attempt < relayerPollAttempts; attempt++ {
		var out struct {
			State string `json:"state"`
		}
		resp, err := r.client.R().SetContext(ctx).SetQueryParam("id", txID).SetResult(&out).Get("/transaction")
		if err == nil && !resp.IsError() {
			switch out.State {
			case "STATE_MINED", "CONFIRMED", "EXECUTED":
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(relayerPollInterval):
		}
	}
	return fmt.Errorf("relayer transaction %s did not reach a terminal state", txID)
}
