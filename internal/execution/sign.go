package execution

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"craftstrat-engine/pkg/types"
)

const chainID = 137 // Polygon mainnet (spec.md §4.10)

// Signer wraps one wallet's EOA private key and produces EIP-712
// signatures over the two schemas the engine needs: the ClobExchange
// order struct (§4.10) and the Safe-factory CreateProxy struct (§4.11).
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner parses a hex-encoded private key (with or without 0x prefix).
func NewSigner(hexKey string) (*Signer, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{privateKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the signer's EOA address.
func (s *Signer) Address() common.Address { return s.address }

// SignTypedData hashes and signs an EIP-712 typed-data struct, encoding
// the result as r‖s‖v with v normalized to 27/28.
func (s *Signer) SignTypedData(domain *apitypes.TypedDataDomain, typesDef apitypes.Types, message apitypes.TypedDataMessage, primaryType string) ([]byte, error) {
	typedData := apitypes.TypedData{Types: typesDef, PrimaryType: primaryType, Domain: *domain, Message: message}
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}
	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// clobExchangeTypes is the EIP-712 type set for the on-chain order struct
// (spec.md §4.10 step 4-6).
var clobExchangeTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "salt", Type: "uint256"},
		{Name: "maker", Type: "address"},
		{Name: "signer", Type: "address"},
		{Name: "taker", Type: "address"},
		{Name: "tokenId", Type: "uint256"},
		{Name: "makerAmount", Type: "uint256"},
		{Name: "takerAmount", Type: "uint256"},
		{Name: "expiration", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "feeRateBps", Type: "uint256"},
		{Name: "side", Type: "uint8"},
		{Name: "signatureType", Type: "uint8"},
	},
}

// SignOrder signs the canonical order struct under the "ClobExchange"
// domain, choosing the verifying contract by the neg-risk flag.
func (s *Signer) SignOrder(order types.SignedOrder, verifyingContract string, negRisk bool) (string, error) {
	domain := &apitypes.TypedDataDomain{
		Name:              "ClobExchange",
		Version:           "1",
		ChainId:           (*ethmath.HexOrDecimal256)(big.NewInt(chainID)),
		VerifyingContract: verifyingContract,
	}
	message := apitypes.TypedDataMessage{
		"salt":          order.Salt,
		"maker":         order.Maker,
		"signer":        order.Signer,
		"taker":         order.Taker,
		"tokenId":       order.TokenID,
		"makerAmount":   order.MakerAmount.String(),
		"takerAmount":   order.TakerAmount.String(),
		"expiration":    order.Expiration,
		"nonce":         order.Nonce,
		"feeRateBps":    order.FeeRateBps,
		"side":          fmt.Sprintf("%d", order.Side),
		"signatureType": fmt.Sprintf("%d", order.SignatureType),
	}
	sig, err := s.SignTypedData(domain, clobExchangeTypes, message, "Order")
	if err != nil {
		return "", err
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// createProxyTypes is the EIP-712 type set for the Safe-factory deployment
// schema (spec.md §4.11).
var createProxyTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"CreateProxy": {
		{Name: "paymentToken", Type: "address"},
		{Name: "payment", Type: "uint256"},
		{Name: "paymentReceiver", Type: "address"},
	},
}

// SignCreateProxy signs the Safe-factory deployment struct under the
// "Polymarket Contract Proxy Factory" domain.
func (s *Signer) SignCreateProxy(safeFactory string) (string, error) {
	domain := &apitypes.TypedDataDomain{
		Name:              "Polymarket Contract Proxy Factory",
		ChainId:           (*ethmath.HexOrDecimal256)(big.NewInt(chainID)),
		VerifyingContract: safeFactory,
	}
	message := apitypes.TypedDataMessage{
		"paymentToken":    common.Address{}.Hex(),
		"payment":         "0",
		"paymentReceiver": common.Address{}.Hex(),
	}
	sig, err := s.SignTypedData(domain, createProxyTypes, message, "CreateProxy")
	if err != nil {
		return "", err
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// BuildHMAC computes the HMAC-SHA256 request signature used for every
// submission to the CLOB and relayer (spec.md §4.10 step 7): message is
// timestamp+method+path[+body], key is the base64-decoded builder
// secret, result base64-url-encoded.
func BuildHMAC(secret, timestamp, method, path, body string) (string, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	message := timestamp + method + path
	if body != "" {
		message += body
	}
	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// PriceToAmounts converts a human price/size pair to maker/taker amounts
// scaled to the quote currency's 6 decimal places (spec.md §4.10 step 3).
func PriceToAmounts(price, size float64, side types.Side) (makerAmt, takerAmt *big.Int) {
	const usdcDecimals = 6
	scale := new(big.Float).SetFloat64(1e6)

	sizeRounded := roundDown(size, 2)
	switch side {
	case types.BUY:
		cost := roundDown(sizeRounded*price, usdcDecimals)
		makerAmt = toScaledInt(cost, scale)
		takerAmt = toScaledInt(sizeRounded, scale)
	case types.SELL:
		makerAmt = toScaledInt(sizeRounded, scale)
		revenue := roundDown(sizeRounded*price, usdcDecimals)
		takerAmt = toScaledInt(revenue, scale)
	}
	return makerAmt, takerAmt
}

func toScaledInt(v float64, scale *big.Float) *big.Int {
	f := new(big.Float).Mul(new(big.Float).SetFloat64(v), scale)
	i, _ := f.Int(nil)
	return i
}

func roundDown(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return float64(int64(val*pow)) / pow
}
