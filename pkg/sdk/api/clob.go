// Package api is a minimal Polymarket SDK: CLOB trading endpoints,
// the public data API and the on-chain fill feed.
package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"

	"github.com/betbot/copybot/pkg/ratelimit"
	sdkhttp "github.com/betbot/copybot/pkg/sdk/http"
)

// DefaultClobURL is the production CLOB endpoint
const DefaultClobURL = "https://clob.polymarket.com"

// CTF Exchange contracts on Polygon. Orders are EIP-712 signed against
// the contract that will settle them, so neg-risk markets need the
// neg-risk exchange as verifying contract.
const (
	CTFExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	NegRiskCTFExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
)

// APICreds holds L2 API credentials for the CLOB
type APICreds struct {
	APIKey        string `json:"apiKey"`
	APISecret     string `json:"secret"`
	APIPassphrase string `json:"passphrase"`
}

// OrderType is the CLOB time-in-force
type OrderType string

const (
	OrderTypeFOK OrderType = "FOK" // fill entirely or cancel
	OrderTypeFAK OrderType = "FAK" // fill what is available, cancel the rest
	OrderTypeGTC OrderType = "GTC" // rest in the book until cancelled
	OrderTypeGTD OrderType = "GTD" // rest in the book until expiration
)

// Side is the order direction
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderBook is the book snapshot for one token
type OrderBook struct {
	Market    string           `json:"market"`
	AssetID   string           `json:"asset_id"`
	Hash      string           `json:"hash"`
	Timestamp string           `json:"timestamp"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
}

// OrderBookLevel is a single price level (decimal strings on the wire)
type OrderBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Order is a signed exchange order
type Order struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
	sideInt       int    // 0=BUY 1=SELL, for EIP-712 only
}

// OrderRequest is the payload for POST /order
type OrderRequest struct {
	Order     Order     `json:"order"`
	Owner     string    `json:"owner"`
	OrderType OrderType `json:"orderType"`
}

// OrderResponse is the response from POST /order.
// MakingAmount/TakingAmount report the immediately matched part
// in 6-decimal base units.
type OrderResponse struct {
	Success      bool     `json:"success"`
	ErrorMsg     string   `json:"errorMsg"`
	OrderID      string   `json:"orderId"`
	OrderHashes  []string `json:"orderHashes"`
	Status       string   `json:"status"` // matched, live, delayed, unmatched
	MakingAmount string   `json:"makingAmount"`
	TakingAmount string   `json:"takingAmount"`
}

// OpenOrder is the order state from GET /data/order/{id}
type OpenOrder struct {
	ID           string      `json:"id"`
	Status       string      `json:"status"`
	Market       string      `json:"market"`
	OriginalSize string      `json:"original_size"`
	SizeMatched  string      `json:"size_matched"`
	Outcome      string      `json:"outcome"`
	Owner        string      `json:"owner"`
	Price        string      `json:"price"`
	Side         string      `json:"side"`
	AssetID      string      `json:"asset_id"`
	Expiration   json.Number `json:"expiration"`
	Type         string      `json:"type"`
	CreatedAt    json.Number `json:"created_at"`
}

// BalanceAllowance is the response from GET /balance-allowance
type BalanceAllowance struct {
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

// AssetType selects which balance to query
type AssetType string

const (
	AssetTypeCollateral  AssetType = "COLLATERAL"  // USDC
	AssetTypeConditional AssetType = "CONDITIONAL" // outcome tokens
)

// ClobClient talks to the Polymarket CLOB API
type ClobClient struct {
	http          *sdkhttp.Client
	auth          *Auth
	creds         *APICreds
	limits        *ratelimit.Manager
	chainID       int64
	funder        common.Address
	signatureType int // 0=EOA, 1=Magic/Email, 2=Browser proxy
}

// NewClobClient creates a CLOB client. Credentials are derived lazily
// on the first authenticated call. auth may be nil for read-only use
// (books and public market data).
func NewClobClient(baseURL string, auth *Auth) *ClobClient {
	if baseURL == "" {
		baseURL = DefaultClobURL
	}
	c := &ClobClient{
		http:          sdkhttp.NewClient(baseURL),
		auth:          auth,
		limits:        ratelimit.NewManager(),
		chainID:       137, // Polygon mainnet
		signatureType: 0,
	}
	if auth != nil {
		c.funder = auth.GetAddress()
	}
	return c
}

// SetFunder sets the funder address for Magic/Email wallets.
// The funder is the Polymarket profile address where USDC is held.
func (c *ClobClient) SetFunder(funderAddress string) {
	c.funder = common.HexToAddress(funderAddress)
}

// SetSignatureType sets the signature type (0=EOA, 1=Magic/Email, 2=Browser proxy)
func (c *ClobClient) SetSignatureType(sigType int) {
	c.signatureType = sigType
}

// DeriveAPICreds obtains L2 credentials for the wallet, creating them
// if none exist yet.
func (c *ClobClient) DeriveAPICreds(ctx context.Context) (*APICreds, error) {
	headers, err := c.auth.SignRequest()
	if err != nil {
		return nil, errors.Wrap(err, "sign L1 request")
	}

	var creds APICreds
	if err := c.http.Get(ctx, "/auth/derive-api-key", nil, headers, &creds); err != nil {
		// No key derived yet for this wallet: create one
		body := map[string]int64{"nonce": time.Now().UnixNano()}
		if err := c.http.Post(ctx, "/auth/api-key", headers, body, &creds); err != nil {
			return nil, errors.Wrap(err, "create api creds")
		}
	}
	c.creds = &creds
	return &creds, nil
}

func (c *ClobClient) ensureCreds(ctx context.Context) error {
	if c.creds != nil {
		return nil
	}
	if c.auth == nil {
		return errors.New("clob client has no signing key")
	}
	_, err := c.DeriveAPICreds(ctx)
	return err
}

// GetOrderBook fetches the book for a token. Asks come back sorted
// ascending and bids descending, best price first on both sides.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	if err := c.limits.Wait(ctx, ratelimit.EndpointBookGet); err != nil {
		return nil, err
	}

	var book OrderBook
	err := c.http.Get(ctx, "/book", map[string]string{"token_id": tokenID}, nil, &book)
	if err != nil {
		return nil, errors.Wrap(err, "get order book")
	}

	sort.Slice(book.Asks, func(i, j int) bool {
		pi, _ := strconv.ParseFloat(book.Asks[i].Price, 64)
		pj, _ := strconv.ParseFloat(book.Asks[j].Price, 64)
		return pi < pj
	})
	sort.Slice(book.Bids, func(i, j int) bool {
		pi, _ := strconv.ParseFloat(book.Bids[i].Price, 64)
		pj, _ := strconv.ParseFloat(book.Bids[j].Price, 64)
		return pi > pj
	})
	return &book, nil
}

// PlaceOrder signs and submits an order.
// expiration is a unix timestamp for GTD orders, 0 otherwise.
// A response with Success=false is returned without error; transport
// and HTTP failures are returned as errors.
func (c *ClobClient) PlaceOrder(ctx context.Context, tokenID string, side Side, size, price float64, orderType OrderType, negRisk bool, expiration int64) (*OrderResponse, error) {
	if err := c.ensureCreds(ctx); err != nil {
		return nil, err
	}
	if err := c.limits.Wait(ctx, ratelimit.EndpointOrderPost); err != nil {
		return nil, err
	}

	order, err := c.createSignedOrder(tokenID, side, size, price, negRisk, expiration)
	if err != nil {
		return nil, err
	}

	payload := OrderRequest{
		Order:     *order,
		Owner:     c.creds.APIKey,
		OrderType: orderType,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	headers := c.l2Headers(http.MethodPost, "/order", string(body))
	var resp OrderResponse
	if err := c.http.Post(ctx, "/order", headers, body, &resp); err != nil {
		return nil, errors.Wrap(err, "post order")
	}
	return &resp, nil
}

// GetOrder retrieves order state by order ID
func (c *ClobClient) GetOrder(ctx context.Context, orderID string) (*OpenOrder, error) {
	if err := c.ensureCreds(ctx); err != nil {
		return nil, err
	}
	if err := c.limits.Wait(ctx, ratelimit.EndpointOrderGet); err != nil {
		return nil, err
	}

	path := "/data/order/" + orderID
	var order OpenOrder
	err := c.http.Get(ctx, path, nil, c.l2Headers(http.MethodGet, path, ""), &order)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return &order, nil
}

// CancelOrder cancels an order by ID. A 404 means the order is already
// filled or cancelled and is treated as success.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.ensureCreds(ctx); err != nil {
		return err
	}
	if err := c.limits.Wait(ctx, ratelimit.EndpointOrderCancel); err != nil {
		return err
	}

	path := "/order/" + orderID
	err := c.http.Delete(ctx, path, c.l2Headers(http.MethodDelete, path, ""), nil, nil)
	var statusErr *sdkhttp.StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return nil
	}
	return err
}

// GetBalanceAllowance fetches balance and allowance for the wallet.
// tokenID is required for the CONDITIONAL asset type.
func (c *ClobClient) GetBalanceAllowance(ctx context.Context, assetType AssetType, tokenID string) (*BalanceAllowance, error) {
	if err := c.ensureCreds(ctx); err != nil {
		return nil, err
	}
	if err := c.limits.Wait(ctx, ratelimit.EndpointBalanceGet); err != nil {
		return nil, err
	}

	params := map[string]string{
		"asset_type":     string(assetType),
		"signature_type": strconv.Itoa(c.signatureType),
	}
	if tokenID != "" {
		params["token_id"] = tokenID
	}

	var result BalanceAllowance
	err := c.http.Get(ctx, "/balance-allowance", params, c.l2Headers(http.MethodGet, "/balance-allowance", ""), &result)
	if err != nil {
		return nil, errors.Wrap(err, "get balance allowance")
	}
	return &result, nil
}

// GetUSDCBalance returns the USDC collateral balance as a float
func (c *ClobClient) GetUSDCBalance(ctx context.Context) (float64, error) {
	ba, err := c.GetBalanceAllowance(ctx, AssetTypeCollateral, "")
	if err != nil {
		return 0, err
	}
	// balance is in 6-decimal base units ("1000000" = $1.00)
	balanceInt, err := strconv.ParseInt(ba.Balance, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse balance %q: %w", ba.Balance, err)
	}
	return float64(balanceInt) / 1e6, nil
}

// createSignedOrder builds an order in exchange base units and signs it.
//
// Precision rules of the exchange:
//   - token amounts: max 2 decimal places (divisible by 10000 in 6-dec)
//   - USDC amounts: max 4 decimal places (divisible by 100 in 6-dec)
//   - marketable BUY orders need at least $1 notional
func (c *ClobClient) createSignedOrder(tokenID string, side Side, size, price float64, negRisk bool, expiration int64) (*Order, error) {
	const tickSize = 0.01
	price = float64(int(price/tickSize+0.5)) * tickSize
	size = float64(int(size*100+0.5)) / 100

	const minTokenSize = 0.1
	if size < minTokenSize {
		size = minTokenSize
	}

	usdcValue := size * price

	const minOrderUSDC = 1.0
	if side == SideBuy && usdcValue < minOrderUSDC && price > 0 {
		// bump size up to the $1 minimum, rounding up to 2 decimals
		minSize := float64(int(minOrderUSDC/price*100)+1) / 100
		if minSize > size {
			size = minSize
			usdcValue = size * price
		}
	}

	sizeInt := big.NewInt(int64(size*100+0.5) * 10000)
	usdcInt := big.NewInt(int64(usdcValue*10000+0.5) * 100)

	var makerAmount, takerAmount *big.Int
	sideInt := 0
	if side == SideBuy {
		// BUY gives USDC, takes tokens
		makerAmount, takerAmount = usdcInt, sizeInt
	} else {
		makerAmount, takerAmount = sizeInt, usdcInt
		sideInt = 1
	}

	order := &Order{
		Salt:          generateSalt(),
		Maker:         c.funder.Hex(),
		Signer:        c.auth.GetAddress().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000", // anyone can fill
		TokenID:       tokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    strconv.FormatInt(expiration, 10),
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          string(side),
		SignatureType: c.signatureType,
		sideInt:       sideInt,
	}

	signature, err := c.signOrder(order, negRisk)
	if err != nil {
		return nil, errors.Wrap(err, "sign order")
	}
	order.Signature = signature
	return order, nil
}

func (c *ClobClient) signOrder(order *Order, negRisk bool) (string, error) {
	verifyingContract := CTFExchangeAddress
	if negRisk {
		verifyingContract = NegRiskCTFExchange
	}

	domain := apitypes.TypedDataDomain{
		Name:              "Polymarket CTF Exchange",
		Version:           "1",
		ChainId:           math.NewHexOrDecimal256(c.chainID),
		VerifyingContract: verifyingContract,
	}

	tokenID, _ := new(big.Int).SetString(order.TokenID, 10)
	makerAmount, _ := new(big.Int).SetString(order.MakerAmount, 10)
	takerAmount, _ := new(big.Int).SetString(order.TakerAmount, 10)
	expiration, _ := new(big.Int).SetString(order.Expiration, 10)
	if tokenID == nil || makerAmount == nil || takerAmount == nil || expiration == nil {
		return "", fmt.Errorf("invalid numeric field in order")
	}

	message := map[string]interface{}{
		"salt":          big.NewInt(order.Salt),
		"maker":         common.HexToAddress(order.Maker).Hex(),
		"signer":        common.HexToAddress(order.Signer).Hex(),
		"taker":         common.HexToAddress(order.Taker).Hex(),
		"tokenId":       tokenID,
		"makerAmount":   makerAmount,
		"takerAmount":   takerAmount,
		"expiration":    expiration,
		"nonce":         big.NewInt(0),
		"feeRateBps":    big.NewInt(0),
		"side":          big.NewInt(int64(order.sideInt)),
		"signatureType": big.NewInt(int64(order.SignatureType)),
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": []apitypes.Type{
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
		},
		PrimaryType: "Order",
		Domain:      domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("failed to hash typed data: %w", err)
	}

	signature, err := crypto.Sign(hash, c.auth.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

// l2Headers builds HMAC authentication headers.
// The signed message is timestamp + method + path + body, path without
// the query string.
func (c *ClobClient) l2Headers(method, path, body string) map[string]string {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := hmacSign(timestamp+method+path+body, c.creds.APISecret)

	return map[string]string{
		"POLY_ADDRESS":    c.auth.GetAddress().Hex(),
		"POLY_API_KEY":    c.creds.APIKey,
		"POLY_PASSPHRASE": c.creds.APIPassphrase,
		"POLY_TIMESTAMP":  timestamp,
		"POLY_SIGNATURE":  signature,
	}
}

func hmacSign(message, secret string) string {
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		if key, err = base64.StdEncoding.DecodeString(secret); err != nil {
			key = []byte(secret)
		}
	}
	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

func generateSalt() int64 {
	return time.Now().UnixNano() % 1000000000
}
