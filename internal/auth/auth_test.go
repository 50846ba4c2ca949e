package auth

import (
	"crypto/ecdsa"
	"strings"
	"testing"
	"time"

	"model-market-go/internal/models"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() models.AuthConfig {
	return models.AuthConfig{
		Domain:        "market.example",
		Uri:           "https://market.example",
		ChainId:       1,
		MessageMaxAge: 10 * time.Minute,
	}
}

// sign produces a wallet-style personal_sign signature with v in {27, 28}
func sign(t *testing.T, key *ecdsa.PrivateKey, text string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(text)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func newWallet(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func TestMessageRoundTrip(t *testing.T) {
	verifier := NewVerifier(testConfig())
	_, address := newWallet(t)

	msg, err := verifier.NewMessage(strings.ToLower(address), "")
	require.NoError(t, err)

	text := msg.String()
	assert.True(t, strings.HasPrefix(text, "market.example wants you to sign in with your Ethereum account:\n"+address+"\n\n"))
	assert.Contains(t, text, "\nChain ID: 1\n")

	parsed, err := ParseMessage(text)
	require.NoError(t, err)
	assert.Equal(t, text, parsed.String())
	assert.Equal(t, address, parsed.Address)
	assert.Equal(t, signInStatement, parsed.Statement)
	assert.Equal(t, "https://market.example", parsed.Uri)
	assert.Equal(t, msg.Nonce, parsed.Nonce)
	assert.True(t, msg.IssuedAt.Equal(parsed.IssuedAt))
}

func TestParseMessage_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"no header":      "hello\n0x0000000000000000000000000000000000000001\n\nURI: x",
		"bad address":    "d wants you to sign in with your Ethereum account:\nnope\n\nURI: x",
		"missing nonce":  "d wants you to sign in with your Ethereum account:\n0x0000000000000000000000000000000000000001\n\nURI: x\nVersion: 1\nChain ID: 1\nIssued At: 2025-01-01T00:00:00Z",
		"bad issued at":  "d wants you to sign in with your Ethereum account:\n0x0000000000000000000000000000000000000001\n\nURI: x\nVersion: 1\nChain ID: 1\nNonce: abc12345\nIssued At: yesterday",
		"garbage fields": "d wants you to sign in with your Ethereum account:\n0x0000000000000000000000000000000000000001\n\nstatement\n\nnot a field",
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMessage(text)
			assert.ErrorIs(t, err, ErrInvalidMessage)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestVerify(t *testing.T) {
	verifier := NewVerifier(testConfig())
	key, address := newWallet(t)
	_, otherAddress := newWallet(t)

	msg, err := verifier.NewMessage(address, "")
	require.NoError(t, err)
	text := msg.String()

	verified, err := verifier.Verify(text, sign(t, key, text))
	require.NoError(t, err)
	assert.Equal(t, address, verified.Address)

	// signature over a different message
	other, err := verifier.NewMessage(otherAddress, "")
	require.NoError(t, err)
	_, err = verifier.Verify(other.String(), sign(t, key, other.String()))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = verifier.Verify(text, "0x1234")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = verifier.Verify(text, "zz")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_Expired(t *testing.T) {
	verifier := NewVerifier(testConfig())
	key, address := newWallet(t)

	issued := time.Now().Add(-time.Hour)
	verifier.now = func() time.Time { return issued }
	msg, err := verifier.NewMessage(address, "")
	require.NoError(t, err)

	verifier.now = time.Now
	_, err = verifier.Verify(msg.String(), sign(t, key, msg.String()))
	assert.ErrorIs(t, err, ErrMessageExpired)
}

func TestVerify_WrongDomain(t *testing.T) {
	key, address := newWallet(t)
	cfg := testConfig()
	cfg.Domain = "evil.example"
	msg, err := NewVerifier(cfg).NewMessage(address, "")
	require.NoError(t, err)

	_, err = NewVerifier(testConfig()).Verify(msg.String(), sign(t, key, msg.String()))
	assert.ErrorIs(t, err, ErrWrongDomain)
}

func TestVerify_WrongChain(t *testing.T) {
	key, address := newWallet(t)
	cfg := testConfig()
	cfg.ChainId = 137
	msg, err := NewVerifier(cfg).NewMessage(address, "")
	require.NoError(t, err)
	assert.Contains(t, msg.String(), "\nChain ID: 137\n")

	_, err = NewVerifier(testConfig()).Verify(msg.String(), sign(t, key, msg.String()))
	assert.ErrorIs(t, err, ErrWrongChain)
	assert.ErrorIs(t, err, ErrUnauthorized)

	verified, err := NewVerifier(cfg).Verify(msg.String(), sign(t, key, msg.String()))
	require.NoError(t, err)
	assert.Equal(t, int64(137), verified.ChainId)
}

func TestVerifyRun(t *testing.T) {
	verifier := NewVerifier(testConfig())
	key, address := newWallet(t)
	_, otherAddress := newWallet(t)

	msg, err := verifier.NewMessage(address, RunStatement("b3duZXIvbW9kZWw="))
	require.NoError(t, err)
	text := msg.String()
	signature := sign(t, key, text)

	assert.NoError(t, verifier.VerifyRun(text, signature, "b3duZXIvbW9kZWw=", strings.ToLower(address)))
	assert.ErrorIs(t, verifier.VerifyRun(text, signature, "other", address), ErrWrongStatement)
	assert.ErrorIs(t, verifier.VerifyRun(text, signature, "b3duZXIvbW9kZWw=", otherAddress), ErrInvalidSignature)
}

func TestTokenIssuer(t *testing.T) {
	_, err := NewTokenIssuer("", time.Hour)
	assert.Error(t, err)

	issuer, err := NewTokenIssuer("secret", time.Hour)
	require.NoError(t, err)

	token, expireAt, err := issuer.Issue("0xABCDEF0000000000000000000000000000000001")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expireAt, 5*time.Second)

	address, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", address)

	other, err := NewTokenIssuer("another-secret", time.Hour)
	require.NoError(t, err)
	_, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Parse("not.a.token")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTokenIssuer_Expired(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", time.Hour)
	require.NoError(t, err)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, _, err := issuer.Issue("0x0000000000000000000000000000000000000001")
	require.NoError(t, err)

	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
