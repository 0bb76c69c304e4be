package execution

import (
	"context"
	"encoding/json"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"

	"craftstrat-engine/pkg/types"
)

const (
	submitPollAttempts = 30
	submitPollInterval = time.Second
)

// BuilderCreds are the HMAC credentials used to authenticate every
// submission to the CLOB (spec.md §4.10 step 7-8).
type BuilderCreds struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// VerifyingContracts are the two CTF exchange addresses chosen by the
// neg_risk flag (spec.md §4.10 step 5).
type VerifyingContracts struct {
	Standard string
	NegRisk  string
}

// Submitter signs and submits ExecutionOrders, then polls for terminal
// status (spec.md §4.10).
type Submitter struct {
	client     *resty.Client
	wallets    *WalletStore
	fees       *FeeCache
	creds      BuilderCreds
	contracts  VerifyingContracts
	encryptPass string
	negRisk     bool
}

// NewSubmitter builds a submitter pointed at the CLOB base URL.
func NewSubmitter(baseURL string, wallets *WalletStore, fees *FeeCache, creds BuilderCreds, contracts VerifyingContracts, encryptionPassphrase string, negRisk bool) *Submitter {
	return &Submitter{
		client:      resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		wallets:     wallets,
		fees:        fees,
		creds:       creds,
		contracts:   contracts,
		encryptPass: encryptionPassphrase,
		negRisk:     negRisk,
	}
}

// Submit signs and submits order, polling until a terminal OrderResult is
// reached (spec.md §4.10 steps 1-9). Submission/signing errors surface as
// {status:Failed}, per spec.md §7 (cryptographic failures are submission
// failures, not exceptions).
func (s *Submitter) Submit(ctx context.Context, order *types.ExecutionOrder) types.OrderResult {
	signer, err := s.wallets.Decrypt(order.WalletID, s.encryptPass)
	if err != nil {
		return types.OrderResult{Status: types.StatusFailed}
	}

	feeRateBps, err := s.fees.Get(ctx, order.TokenID)
	if err != nil {
		feeRateBps = 0
	}

	price := 0.5
	orderType := types.OrderTypeFOK
	if order.Price != nil {
		price = *order.Price
		orderType = types.OrderTypeGTC
	}

	side := types.ExchangeBuy
	if order.Side == types.SELL {
		side = types.ExchangeSell
	}
	makerAmt, takerAmt := PriceToAmounts(price, order.SizeUSDC, order.Side)

	safeAddr, hasSafe := s.wallets.SafeAddress(order.WalletID)
	maker := signer.Address().Hex()
	if hasSafe {
		maker = safeAddr.Hex()
	}

	signedOrder := types.SignedOrder{
		Salt:          saltFromOrderID(order.ID),
		Maker:         maker,
		Signer:        signer.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       order.TokenID,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    strconv.Itoa(feeRateBps),
		Side:          side,
		SignatureType: 0,
	}

	verifyingContract := s.contracts.Standard
	if s.negRisk {
		verifyingContract = s.contracts.NegRisk
	}
	sig, err := signer.SignOrder(signedOrder, verifyingContract, s.negRisk)
	if err != nil {
		return types.OrderResult{Status: types.StatusFailed}
	}
	signedOrder.Signature = sig

	submission := types.OrderSubmission{
		Order:     signedOrder,
		Owner:     s.creds.APIKey,
		OrderType: orderType,
		NegRisk:   s.negRisk,
	}
	body, err := json.Marshal(submission)
	if err != nil {
		return types.OrderResult{Status: types.StatusFailed}
	}

	const path = "/order"
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	hmacSig, err := BuildHMAC(s.creds.Secret, timestamp, "POST", path, string(body))
	if err != nil {
		return types.OrderResult{Status: types.StatusFailed}
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeaders(map[string]string{
			"POLY_ADDRESS":    signer.Address().Hex(),
			"POLY_SIGNATURE":  hmacSig,
			"POLY_TIMESTAMP":  timestamp,
			"POLY_API_KEY":    s.creds.APIKey,
			"POLY_PASSPHRASE": s.creds.Passphrase,
		}).
		SetBody(body).
		Post(path)
	if err != nil || resp.IsError() {
		return types.OrderResult{Status: types.StatusFailed}
	}

	var submitResp types.OrderSubmitResponse
	if err := json.Unmarshal(resp.Body(), &submitResp); err != nil || !submitResp.Success {
		return types.OrderResult{Status: types.StatusFailed}
	}

	return s.pollStatus(ctx, submitResp.OrderID)
}

// pollStatus polls GET /data/order/{id} once a second up to 30 attempts
// (spec.md §4.10 step 9).
func (s *Submitter) pollStatus(ctx context.Context, orderID string) types.OrderResult {
	for attempt := 0; attempt < submitPollAttempts; attempt++ {
		var status types.OrderStatusResponse
		resp, err := s.client.R().SetContext(ctx).SetResult(&status).Get("/data/order/" + orderID)
		if err == nil && !resp.IsError() {
			switch status.Status {
			case "matched", "filled":
				result := types.OrderResult{ExternalOrderID: orderID, Status: types.StatusFilled}
				if len(status.AssociateTrades) > 0 {
					price, perr := strconv.ParseFloat(status.AssociateTrades[0].Price, 64)
					if perr == nil {
						result.FilledPrice = &price
					}
				}
				return result
			case "cancelled":
				return types.OrderResult{ExternalOrderID: orderID, Status: types.StatusCancelled}
			case "failed":
				return types.OrderResult{ExternalOrderID: orderID, Status: types.StatusFailed}
			}
		}

		select {
		case <-ctx.Done():
			return types.OrderResult{ExternalOrderID: orderID, Status: types.StatusTimeout}
		case <-time.After(submitPollInterval):
		}
	}
	return types.OrderResult{ExternalOrderID: orderID, Status: types.StatusTimeout}
}

// saltFromOrderID derives a deterministic numeric salt from an order UUID
// by taking its Keccak256 hash mod 2^256 (spec.md §4.10 step 4).
func saltFromOrderID(orderID string) string {
	hash := crypto.Keccak256([]byte(orderID))
	salt := new(big.Int).SetBytes(hash)
	return salt.String()
}
