// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // x5t is defined as a SHA-1 thumbprint
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const cAssertionLifetime = 10 * time.Minute

// certificateSigner signs client assertions for a service principal certificate.
type certificateSigner struct {
	key        *rsa.PrivateKey
	thumbprint []byte
}

// newCertificateSigner parses PEM or PKCS#12 certificate data. When thumbprint is empty it is computed from the
// leaf certificate.
func newCertificateSigner(certificateData []byte, password string, thumbprint string) (*certificateSigner, error) {
	certs, key, err := azidentity.ParseCertificates(certificateData, []byte(password))
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("certificate key must be RSA, got %T", key)
	}

	tp, err := resolveThumbprint(certs, thumbprint)
	if err != nil {
		return nil, err
	}

	return &certificateSigner{key: rsaKey, thumbprint: tp}, nil
}

func resolveThumbprint(certs []*x509.Certificate, thumbprint string) ([]byte, error) {
	if thumbprint != "" {
		tp, err := hex.DecodeString(strings.ReplaceAll(thumbprint, ":", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid certificate thumbprint %q: %w", thumbprint, err)
		}
		return tp, nil
	}

	if len(certs) == 0 {
		return nil, errors.New("certificate data contains no certificate")
	}

	sum := sha1.Sum(certs[0].Raw) //nolint:gosec
	return sum[:], nil
}

// assertion returns a signed JWT identifying clientID to the token endpoint audience.
func (s *certificateSigner) assertion(clientID string, audience string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    clientID,
		Subject:   clientID,
		Audience:  jwt.ClaimStrings{audience},
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(cAssertionLifetime)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["x5t"] = base64.StdEncoding.EncodeToString(s.thumbprint)

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing client assertion: %w", err)
	}

	return signed, nil
}
