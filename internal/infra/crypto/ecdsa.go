package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
)

var randReader io.Reader = rand.Reader

func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), randReader)
}

func MarshalPrivateKey(key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, errors.New("private key is nil")
	}
	return x509.MarshalPKCS8PrivateKey(key)
}

func ParsePrivateKey(der []byte) (*ecdsa.PrivateKey, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, errors.New("private key is not ECDSA P-256")
	}
	return key, nil
}

func MarshalPublicKey(key *ecdsa.PublicKey) ([]byte, error) {
	if key == nil {
		return nil, errors.New("public key is nil")
	}
	return x509.MarshalPKIXPublicKey(key)
}

func ParsePublicKey(der []byte) (*ecdsa.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, errors.New("public key is not ECDSA P-256")
	}
	return key, nil
}

func PublicKeyPEM(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func ParsePublicKeyPEM(data []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("expected PEM encoded PUBLIC KEY")
	}
	return ParsePublicKey(block.Bytes)
}

// KeyIDFromPublicKey derives a stable key id from the PKIX encoding.
func KeyIDFromPublicKey(der []byte) string {
	return SHA256Hex(der)
}

// SignCanonical signs SHA-256(canonical) and returns the base64 DER signature.
func SignCanonical(key *ecdsa.PrivateKey, canonical []byte) (string, error) {
	if key == nil {
		return "", errors.New("private key is nil")
	}
	digest := sha256.Sum256(canonical)
	sig, err := ecdsa.SignASN1(randReader, key, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyCanonical checks a base64 DER signature over canonical bytes.
func VerifyCanonical(key *ecdsa.PublicKey, canonical []byte, signature string) error {
	if key == nil {
		return domain.ErrKeyNotFound
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(sig) == 0 {
		return fmt.Errorf("%w: signature is not base64 DER", domain.ErrSignatureInvalid)
	}
	digest := sha256.Sum256(canonical)
	if !ecdsa.VerifyASN1(key, digest[:], sig) {
		return domain.ErrSignatureInvalid
	}
	return nil
}
