package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"model-market-go/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	siwe "github.com/spruceid/siwe-go"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidMessage   = fmt.Errorf("%w: malformed sign-in message", ErrUnauthorized)
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrUnauthorized)
	ErrMessageExpired   = fmt.Errorf("%w: sign-in message expired", ErrUnauthorized)
	ErrWrongDomain      = fmt.Errorf("%w: sign-in message domain mismatch", ErrUnauthorized)
	ErrWrongChain       = fmt.Errorf("%w: sign-in message chain mismatch", ErrUnauthorized)
	ErrWrongStatement   = fmt.Errorf("%w: sign-in message statement mismatch", ErrUnauthorized)
)

const signInStatement = "Sign in to the model marketplace"

// Message is an EIP-4361 sign-in message
type Message struct {
	Domain    string
	Address   string
	Statement string
	Uri       string
	ChainId   int64
	Nonce     string
	IssuedAt  time.Time

	raw *siwe.Message
}

func RunStatement(model string) string {
	return "Run model " + model
}

// String renders the message text the wallet signs
func (m *Message) String() string {
	return m.raw.String()
}

func ParseMessage(text string) (*Message, error) {
	raw, err := siwe.ParseMessage(strings.ReplaceAll(text, "\r\n", "\n"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return fromSiwe(raw)
}

func fromSiwe(raw *siwe.Message) (*Message, error) {
	issuedAt, err := time.Parse(time.RFC3339, raw.GetIssuedAt())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid issued at", ErrInvalidMessage)
	}

	uri := raw.GetURI()
	msg := &Message{
		Domain:   raw.GetDomain(),
		Address:  raw.GetAddress().Hex(),
		Uri:      uri.String(),
		ChainId:  int64(raw.GetChainID()),
		Nonce:    raw.GetNonce(),
		IssuedAt: issuedAt,
		raw:      raw,
	}
	if statement := raw.GetStatement(); statement != nil {
		msg.Statement = *statement
	}
	return msg, nil
}

// Verifier issues sign-in messages and checks their wallet signatures
type Verifier struct {
	cfg models.AuthConfig
	now func() time.Time
}

func NewVerifier(cfg models.AuthConfig) *Verifier {
	return &Verifier{cfg: cfg, now: time.Now}
}

// NewMessage builds a message for walletAddress. An empty statement uses the sign-in statement.
func (v *Verifier) NewMessage(walletAddress, statement string) (*Message, error) {
	if !common.IsHexAddress(walletAddress) {
		return nil, fmt.Errorf("invalid wallet address %q", walletAddress)
	}
	if statement == "" {
		statement = signInStatement
	}

	raw, err := siwe.InitMessage(
		v.cfg.Domain,
		common.HexToAddress(walletAddress).Hex(),
		v.cfg.Uri,
		strings.ReplaceAll(uuid.NewString(), "-", ""),
		map[string]interface{}{
			"statement": statement,
			"chainId":   int(v.cfg.ChainId),
			"issuedAt":  v.now().UTC().Truncate(time.Second).Format(time.RFC3339),
		})
	if err != nil {
		return nil, fmt.Errorf("unable to build sign-in message: %w", err)
	}
	return fromSiwe(raw)
}

// Verify parses text, checks its domain, chain and age and recovers the signer. The signer
// must be the address the message names.
func (v *Verifier) Verify(text, signature string) (*Message, error) {
	msg, err := ParseMessage(text)
	if err != nil {
		return nil, err
	}
	if msg.Domain != v.cfg.Domain {
		return nil, fmt.Errorf("%w: %q", ErrWrongDomain, msg.Domain)
	}
	if msg.ChainId != v.cfg.ChainId {
		return nil, fmt.Errorf("%w: chain id %d", ErrWrongChain, msg.ChainId)
	}

	now := v.now()
	if msg.IssuedAt.After(now.Add(time.Minute)) {
		return nil, fmt.Errorf("%w: issued in the future", ErrInvalidMessage)
	}
	if v.cfg.MessageMaxAge > 0 && now.Sub(msg.IssuedAt) > v.cfg.MessageMaxAge {
		return nil, ErrMessageExpired
	}
	if ok, err := msg.raw.ValidAt(now); !ok || err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageExpired, err)
	}

	if err := checkSignature(signature); err != nil {
		return nil, err
	}
	pub, err := msg.raw.VerifyEIP191(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer := crypto.PubkeyToAddress(*pub); signer != common.HexToAddress(msg.Address) {
		return nil, fmt.Errorf("%w: signer %s does not match %s", ErrInvalidSignature, signer.Hex(), msg.Address)
	}
	return msg, nil
}

// VerifyRun verifies a run authorisation for model signed by walletAddress
func (v *Verifier) VerifyRun(text, signature, model, walletAddress string) error {
	msg, err := v.Verify(text, signature)
	if err != nil {
		return err
	}
	if msg.Statement != RunStatement(model) {
		return ErrWrongStatement
	}
	if !strings.EqualFold(msg.Address, walletAddress) {
		return fmt.Errorf("%w: message signed for another wallet", ErrInvalidSignature)
	}
	return nil
}

// checkSignature rejects anything that is not a 65 byte hex signature
func checkSignature(signature string) error {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, crypto.SignatureLength, len(sig))
	}
	return nil
}
