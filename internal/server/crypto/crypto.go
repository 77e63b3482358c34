/*
 * Copyright 2025 Holger de Carne
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

type AsymetricKeyType string

const (
	AsymetricKeyTypeRSA2048   AsymetricKeyType = "RSA-2048"
	AsymetricKeyTypeECDSAP256 AsymetricKeyType = "ECDSA-P256"
)

type AsymetricKey struct {
	keyType    AsymetricKeyType
	privateKey crypto.Signer
}

func NewAsymetricKey(keyType AsymetricKeyType) (*AsymetricKey, error) {
	var privateKey crypto.Signer
	var err error
	switch keyType {
	case AsymetricKeyTypeRSA2048:
		privateKey, _, err = GenerateRSAKeys(2048)
	case AsymetricKeyTypeECDSAP256:
		privateKey, _, err = GenerateECDSAKeys(elliptic.P256())
	default:
		err = fmt.Errorf("unrecognized asymetric key type: '%s'", string(keyType))
	}
	if err != nil {
		return nil, err
	}
	key := &AsymetricKey{
		keyType:    keyType,
		privateKey: privateKey,
	}
	return key, nil
}

func (k *AsymetricKey) KeyType() AsymetricKeyType {
	return k.keyType
}

func (k *AsymetricKey) PrivateKey() crypto.Signer {
	return k.privateKey
}

func (k *AsymetricKey) PublicKey() crypto.PublicKey {
	return k.privateKey.Public()
}

func MarshalPrivateKey(privateKey crypto.PrivateKey) ([]byte, error) {
	privateKeyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key (cause: %w)", err)
	}
	return privateKeyBytes, nil
}

// EncodePrivateKeyPEM encodes a private key as a PKCS#8 PEM block.
func EncodePrivateKeyPEM(privateKey crypto.PrivateKey) ([]byte, error) {
	privateKeyBytes, err := MarshalPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateKeyBytes}), nil
}

var ErrNoPEMData = errors.New("no PEM data")

// DecodePrivateKeyPEM decodes the first PEM block of the given data into a
// private key. PKCS#1, SEC 1 and PKCS#8 encodings are recognized.
func DecodePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrNoPEMData
	}
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err == nil {
		return rsaKey, nil
	}
	ecKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err == nil {
		return ecKey, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal private key (cause: %w)", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return signer, nil
}

func GenerateRSAKeys(bits int) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate RSA key (cause: %w)", err)
	}
	return privateKey, &privateKey.PublicKey, nil
}

func GenerateECDSAKeys(c elliptic.Curve) (*ecdsa.PrivateKey, *ecdsa.PublicKey, error) {
	privateKey, err := ecdsa.GenerateKey(c, rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ECDSA key (cause: %w)", err)
	}
	return privateKey, &privateKey.PublicKey, nil
}

func ReadRandomBytes(bytes []byte) error {
	_, err := io.ReadFull(rand.Reader, bytes)
	if err != nil {
		return fmt.Errorf("failed generate random bytes (cause: %w)", err)
	}
	return nil
}

const alphanumerics = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Largest multiple of len(alphanumerics) fitting into a byte; larger random
// bytes are discarded to keep the distribution uniform.
const alphanumericsLimit = 256 - 256%len(alphanumerics)

// RandomAlphanumeric returns a string of the given length drawn uniformly
// from [A-Za-z0-9] using the system's cryptographic random source.
func RandomAlphanumeric(length int) (string, error) {
	text := make([]byte, 0, length)
	buffer := make([]byte, length+length/4)
	for len(text) < length {
		err := ReadRandomBytes(buffer)
		if err != nil {
			return "", err
		}
		for _, b := range buffer {
			if int(b) >= alphanumericsLimit {
				continue
			}
			text = append(text, alphanumerics[int(b)%len(alphanumerics)])
			if len(text) == length {
				break
			}
		}
	}
	return string(text), nil
}
