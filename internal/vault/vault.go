package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	// ivSize is the AES-GCM nonce length. 16 bytes, matching the persisted
	// record format (32 hex chars).
	ivSize = 16
	// tagSize is the GCM authentication tag length.
	tagSize = 16

	// hkdfSalt is a fixed domain-separation salt for team key derivation.
	hkdfSalt = "vmforge/credential-vault/v1"

	// DefaultStateMaxAge bounds OAuth state token validity.
	DefaultStateMaxAge = 10 * time.Minute
)

// Vault performs per-team authenticated encryption of secret blobs and
// issues signed, expiring OAuth state tokens. All operations are
// synchronous and CPU bound; a Vault is safe for concurrent use.
type Vault struct {
	masterKey []byte
}

// New creates a Vault over a process-wide master key. The key must be
// 32 bytes; compromise of one team's derived key must not expose the
// master key or any other team's key, hence HKDF per team.
func New(masterKey []byte) (*Vault, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("vault: master key must be 32 bytes, got %d", len(masterKey))
	}
	return &Vault{masterKey: masterKey}, nil
}

// DeriveTeamKey derives the 32-byte encryption key for one team via
// HKDF-SHA256 with an info string binding the team id and purpose.
func (v *Vault) DeriveTeamKey(teamID string) ([]byte, error) {
	info := "credentials:" + teamID
	r := hkdf.New(sha256.New, v.masterKey, []byte(hkdfSalt), []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("vault: derive team key: %w", err)
	}
	return key, nil
}

// Encrypt serializes plaintext, encrypts it under the team's derived key
// with AES-256-GCM, and returns "ivHex:authTagHex:cipherHex". The AAD
// "{teamID}:{scopeID}" binds the ciphertext to its exact context: a record
// decrypted under any other (team, scope) pair fails authentication even
// with the correct key.
func (v *Vault) Encrypt(teamID, scopeID string, plaintext map[string]string) (string, error) {
	key, err := v.DeriveTeamKey(teamID)
	if err != nil {
		return "", err
	}

	serialized, err := json.Marshal(plaintext)
	if err != nil {
		return "", fmt.Errorf("vault: serialize plaintext: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("vault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return "", fmt.Errorf("vault: new gcm: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: generate iv: %w", err)
	}

	aad := []byte(teamID + ":" + scopeID)
	sealed := gcm.Seal(nil, iv, serialized, aad)

	// Seal appends the tag to the ciphertext; the record format keeps them
	// as separate fields.
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt. Any malformed record, wrong key, or tampered
// ciphertext/AAD fails the whole operation with no partial output; callers
// cannot distinguish tampering from a wrong key by design.
func (v *Vault) Decrypt(teamID, scopeID, record string) (map[string]string, error) {
	parts := strings.Split(record, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("vault: malformed credential record: expected 3 fields, got %d", len(parts))
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("vault: malformed iv: %w", err)
	}
	if len(iv) != ivSize {
		return nil, fmt.Errorf("vault: malformed iv: expected %d bytes, got %d", ivSize, len(iv))
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("vault: malformed auth tag: %w", err)
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("vault: malformed ciphertext: %w", err)
	}

	key, err := v.DeriveTeamKey(teamID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("vault: new gcm: %w", err)
	}

	aad := []byte(teamID + ":" + scopeID)
	plain, err := gcm.Open(nil, iv, append(ct, tag...), aad)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt failed")
	}

	var out map[string]string
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, fmt.Errorf("vault: parse plaintext: %w", err)
	}
	return out, nil
}

// OAuthState is the validated content of an OAuth state token.
type OAuthState struct {
	TeamID string
	UserID string
}

// GenerateOAuthState builds a self-contained signed token carrying
// (team, user, issuance time, nonce): URL-safe base64 over
// "teamID:userID:timestampMs:nonceHex:hmacHex".
func (v *Vault) GenerateOAuthState(teamID, userID string) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}

	payload := fmt.Sprintf("%s:%s:%d:%s", teamID, userID, time.Now().UnixMilli(), hex.EncodeToString(nonce))

	mac := hmac.New(sha256.New, v.masterKey)
	mac.Write([]byte(payload))
	sig := hex.EncodeToString(mac.Sum(nil))

	return base64.URLEncoding.EncodeToString([]byte(payload + ":" + sig)), nil
}

// ValidateOAuthState decodes and verifies a state token. It returns nil on
// any decode error, field-count mismatch, signature mismatch, or expiry;
// callers treat nil uniformly as "reject this OAuth flow". Signature
// comparison is constant time.
func (v *Vault) ValidateOAuthState(token string, maxAge time.Duration) *OAuthState {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil
	}

	parts := strings.Split(string(raw), ":")
	if len(parts) != 5 {
		return nil
	}
	teamID, userID, tsStr, nonceHex, sigHex := parts[0], parts[1], parts[2], parts[3], parts[4]

	payload := teamID + ":" + userID + ":" + tsStr + ":" + nonceHex
	mac := hmac.New(sha256.New, v.masterKey)
	mac.Write([]byte(payload))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sigHex)) {
		return nil
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil
	}
	if time.Since(time.UnixMilli(ts)) > maxAge {
		return nil
	}

	return &OAuthState{TeamID: teamID, UserID: userID}
}
