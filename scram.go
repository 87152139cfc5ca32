package mqttclient

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // SHA-1 required for SCRAM-SHA-1 compatibility
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// SCRAM errors.
var (
	ErrSCRAMMalformed       = errors.New("malformed SCRAM message")
	ErrSCRAMServerError     = errors.New("SCRAM server error")
	ErrSCRAMServerSignature = errors.New("SCRAM server signature mismatch")
)

// SCRAMHash represents the hash algorithm used for SCRAM authentication.
type SCRAMHash int

const (
	// SCRAMHashSHA1 uses SHA-1 (for legacy compatibility, not recommended for new deployments).
	SCRAMHashSHA1 SCRAMHash = iota
	// SCRAMHashSHA256 uses SHA-256 (recommended).
	SCRAMHashSHA256
	// SCRAMHashSHA512 uses SHA-512.
	SCRAMHashSHA512
)

// String returns the MQTT auth method name for this hash.
func (h SCRAMHash) String() string {
	switch h {
	case SCRAMHashSHA1:
		return "SCRAM-SHA-1"
	case SCRAMHashSHA512:
		return "SCRAM-SHA-512"
	default:
		return "SCRAM-SHA-256"
	}
}

// ParseSCRAMHash maps an auth method name to its hash.
func ParseSCRAMHash(method string) (SCRAMHash, error) {
	switch strings.ToUpper(method) {
	case "SCRAM-SHA-1":
		return SCRAMHashSHA1, nil
	case "SCRAM-SHA-256":
		return SCRAMHashSHA256, nil
	case "SCRAM-SHA-512":
		return SCRAMHashSHA512, nil
	default:
		return SCRAMHashSHA256, fmt.Errorf("%w: auth method %q", ErrInvalidOption, method)
	}
}

func (h SCRAMHash) hashFunc() func() hash.Hash {
	switch h {
	case SCRAMHashSHA1:
		return sha1.New
	case SCRAMHashSHA512:
		return sha512.New
	default:
		return sha256.New
	}
}

func (h SCRAMHash) keySize() int {
	switch h {
	case SCRAMHashSHA1:
		return sha1.Size
	case SCRAMHashSHA512:
		return sha512.Size
	default:
		return sha256.Size
	}
}

func scramHMAC(h func() hash.Hash, key []byte, msg string) []byte {
	mac := hmac.New(h, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

// scramKeys derives ClientKey, StoredKey and ServerKey from a password.
func scramKeys(hashType SCRAMHash, password string, salt []byte, iterations int) (clientKey, storedKey, serverKey []byte) {
	h := hashType.hashFunc()

	salted := pbkdf2.Key([]byte(password), salt, iterations, hashType.keySize(), h)
	clientKey = scramHMAC(h, salted, "Client Key")

	d := h()
	d.Write(clientKey)
	storedKey = d.Sum(nil)

	serverKey = scramHMAC(h, salted, "Server Key")
	return clientKey, storedKey, serverKey
}

type scramStage uint8

const (
	scramAwaitServerFirst scramStage = iota + 1
	scramAwaitServerFinal
)

// scramState is carried between exchanges in ClientEnhancedAuthContext.State.
type scramState struct {
	stage           scramStage
	clientNonce     string
	clientFirstBare string
	serverSignature []byte
}

// SCRAMClient authenticates with SCRAM-SHA-1, SCRAM-SHA-256 or SCRAM-SHA-512
// (RFC 5802, without channel binding).
type SCRAMClient struct {
	hash     SCRAMHash
	username string
	password string
	nonce    func() (string, error)
}

// NewSCRAMClient creates a SCRAM authenticator for the given credentials.
func NewSCRAMClient(hashType SCRAMHash, username, password string) *SCRAMClient {
	return &SCRAMClient{
		hash:     hashType,
		username: username,
		password: password,
		nonce:    generateScramNonce,
	}
}

// AuthMethod returns the SCRAM mechanism name.
func (s *SCRAMClient) AuthMethod() string { return s.hash.String() }

// AuthStart returns the client-first-message.
func (s *SCRAMClient) AuthStart(_ context.Context) (*ClientEnhancedAuthResult, error) {
	nonce, err := s.nonce()
	if err != nil {
		return nil, err
	}

	bare := "n=" + scramEscape(s.username) + ",r=" + nonce
	return &ClientEnhancedAuthResult{
		AuthData: []byte("n,," + bare),
		State: &scramState{
			stage:           scramAwaitServerFirst,
			clientNonce:     nonce,
			clientFirstBare: bare,
		},
	}, nil
}

// AuthContinue answers the server-first-message with the client proof, then
// verifies the server signature in the server-final-message.
func (s *SCRAMClient) AuthContinue(_ context.Context, authCtx *ClientEnhancedAuthContext) (*ClientEnhancedAuthResult, error) {
	state, ok := authCtx.State.(*scramState)
	if !ok || state == nil {
		return nil, fmt.Errorf("%w: no exchange in progress", ErrSCRAMMalformed)
	}

	switch state.stage {
	case scramAwaitServerFirst:
		return s.clientFinal(state, string(authCtx.AuthData))
	case scramAwaitServerFinal:
		return s.verifyServerFinal(state, string(authCtx.AuthData))
	default:
		return nil, fmt.Errorf("%w: unexpected stage", ErrSCRAMMalformed)
	}
}

func (s *SCRAMClient) clientFinal(state *scramState, serverFirst string) (*ClientEnhancedAuthResult, error) {
	attrs := parseScramAttributes(serverFirst)
	if e, ok := attrs['e']; ok {
		return nil, fmt.Errorf("%w: %s", ErrSCRAMServerError, e)
	}

	nonce := attrs['r']
	if !strings.HasPrefix(nonce, state.clientNonce) || len(nonce) == len(state.clientNonce) {
		return nil, fmt.Errorf("%w: server nonce does not extend client nonce", ErrSCRAMMalformed)
	}

	salt, err := base64.StdEncoding.DecodeString(attrs['s'])
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("%w: salt", ErrSCRAMMalformed)
	}

	iterations, err := strconv.Atoi(attrs['i'])
	if err != nil || iterations <= 0 {
		return nil, fmt.Errorf("%w: iteration count %q", ErrSCRAMMalformed, attrs['i'])
	}

	h := s.hash.hashFunc()
	clientKey, storedKey, serverKey := scramKeys(s.hash, s.password, salt, iterations)

	withoutProof := "c=biws,r=" + nonce
	authMessage := state.clientFirstBare + "," + serverFirst + "," + withoutProof

	proof := scramHMAC(h, storedKey, authMessage)
	for i := range proof {
		proof[i] ^= clientKey[i]
	}

	return &ClientEnhancedAuthResult{
		AuthData: []byte(withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)),
		State: &scramState{
			stage:           scramAwaitServerFinal,
			clientNonce:     state.clientNonce,
			clientFirstBare: state.clientFirstBare,
			serverSignature: scramHMAC(h, serverKey, authMessage),
		},
	}, nil
}

func (s *SCRAMClient) verifyServerFinal(state *scramState, serverFinal string) (*ClientEnhancedAuthResult, error) {
	attrs := parseScramAttributes(serverFinal)
	if e, ok := attrs['e']; ok {
		return nil, fmt.Errorf("%w: %s", ErrSCRAMServerError, e)
	}

	sig, err := base64.StdEncoding.DecodeString(attrs['v'])
	if err != nil || len(sig) == 0 {
		return nil, fmt.Errorf("%w: server signature", ErrSCRAMMalformed)
	}
	if !hmac.Equal(sig, state.serverSignature) {
		return nil, ErrSCRAMServerSignature
	}

	return &ClientEnhancedAuthResult{Done: true}, nil
}

// parseScramAttributes splits "k=v,k=v" into a map keyed by attribute letter.
func parseScramAttributes(msg string) map[byte]string {
	attrs := make(map[byte]string)
	for part := range strings.SplitSeq(msg, ",") {
		if len(part) < 2 || part[1] != '=' {
			continue
		}
		attrs[part[0]] = part[2:]
	}
	return attrs
}

// scramEscape encodes a username as a saslname.
func scramEscape(s string) string {
	return strings.NewReplacer("=", "=3D", ",", "=2C").Replace(s)
}

func generateScramNonce() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
