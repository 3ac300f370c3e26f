// Package encryption handles encryption of server credentials at rest.
package encryption

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fernet/fernet-go"
)

// Service encrypts and decrypts sensitive data with a fernet key.
type Service struct {
	key *fernet.Key
}

// NewService creates an encryption service with the provided key.
func NewService(keyString string) (*Service, error) {
	if keyString == "" {
		return nil, fmt.Errorf("encryption key cannot be empty")
	}

	key, err := fernet.DecodeKey(keyString)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}

	return &Service{key: key}, nil
}

// GenerateKey returns a new base64-encoded fernet key.
func GenerateKey() (string, error) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return "", fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return key.Encode(), nil
}

// Encrypt encrypts plaintext and returns a base64-encoded token.
func (s *Service) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil // Don't encrypt empty strings
	}

	token, err := fernet.EncryptAndSign([]byte(plaintext), s.key)
	if err != nil {
		return "", fmt.Errorf("encryption failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(token), nil
}

// Decrypt decrypts a base64-encoded token and returns plaintext.
func (s *Service) Decrypt(token string) (string, error) {
	if token == "" {
		return "", nil // Return empty string for empty tokens
	}

	tokenBytes, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("invalid token format: %w", err)
	}

	// Set TTL to 100 years - we don't want credentials to expire
	plaintext := fernet.VerifyAndDecrypt(tokenBytes, time.Hour*24*365*100, []*fernet.Key{s.key})
	if plaintext == nil {
		return "", fmt.Errorf("failed to decrypt token: invalid or expired")
	}

	return string(plaintext), nil
}

// ServerCredentials is the serialized form of a server's SSH credentials.
type ServerCredentials struct {
	PrivateKey string `json:"private_key,omitempty"`
	Password   string `json:"password,omitempty"`
}

// EncryptServerCredentials encrypts SSH credentials for database storage.
func (s *Service) EncryptServerCredentials(creds *ServerCredentials) (string, error) {
	if creds == nil || (creds.PrivateKey == "" && creds.Password == "") {
		return "", nil
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("failed to serialize credentials: %w", err)
	}

	encrypted, err := s.Encrypt(string(data))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	return encrypted, nil
}

// DecryptServerCredentials decrypts stored SSH credentials.
func (s *Service) DecryptServerCredentials(encrypted string) (*ServerCredentials, error) {
	if encrypted == "" {
		return nil, nil
	}

	data, err := s.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var creds ServerCredentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return nil, fmt.Errorf("failed to deserialize credentials: %w", err)
	}
	return &creds, nil
}
