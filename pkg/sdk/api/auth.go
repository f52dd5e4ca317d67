package api

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Auth handles Polymarket L1 authentication with EIP-712 signing
type Auth struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewAuth creates a new auth instance from the default POLYMARKET_PRIVATE_KEY env var
func NewAuth() (*Auth, error) {
	return NewAuthFromEnvVar("POLYMARKET_PRIVATE_KEY")
}

// NewAuthFromEnvVar creates a new auth instance from a specific environment variable
func NewAuthFromEnvVar(envVarName string) (*Auth, error) {
	privateKeyStr := strings.TrimSpace(os.Getenv(envVarName))
	if privateKeyStr == "" {
		return nil, fmt.Errorf("%s environment variable not set", envVarName)
	}
	return NewAuthFromKey(privateKeyStr)
}

// NewAuthFromKey creates a new auth instance from a private key string
func NewAuthFromKey(privateKeyStr string) (*Auth, error) {
	privateKeyStr = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(privateKeyStr), "0x"))
	if privateKeyStr == "" {
		return nil, fmt.Errorf("private key is empty")
	}

	privateKeyBytes, err := hex.DecodeString(privateKeyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid private key format: %w", err)
	}

	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to cast public key to ECDSA")
	}

	return &Auth{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
	}, nil
}

// GetAddress returns the Ethereum address derived from the private key
func (a *Auth) GetAddress() common.Address {
	return a.address
}

// SignRequest creates L1 authentication headers for the CLOB API.
// These headers prove control of the wallet and are only needed to
// create or derive L2 API credentials.
func (a *Auth) SignRequest() (map[string]string, error) {
	timestamp := time.Now().Unix()
	nonce := int64(0)

	domain := apitypes.TypedDataDomain{
		Name:    "ClobAuthDomain",
		Version: "1",
		ChainId: math.NewHexOrDecimal256(137), // Polygon mainnet
	}

	message := map[string]interface{}{
		"address":   a.address.Hex(),
		"timestamp": strconv.FormatInt(timestamp, 10), // timestamp as string
		"nonce":     math.NewHexOrDecimal256(nonce),
		"message":   "This message attests that I control the given wallet",
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": []apitypes.Type{
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain:      domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}

	signature, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v value (recovery ID)
	signature[64] += 27

	return map[string]string{
		"POLY_ADDRESS":   a.address.Hex(),
		"POLY_SIGNATURE": "0x" + hex.EncodeToString(signature),
		"POLY_TIMESTAMP": strconv.FormatInt(timestamp, 10),
		"POLY_NONCE":     strconv.FormatInt(nonce, 10),
	}, nil
}
