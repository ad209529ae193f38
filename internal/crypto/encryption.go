package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

const keySize = 32

// ErrMalformedCiphertext signals input that is not in the iv:ciphertext
// hex format produced by Encrypt.
var ErrMalformedCiphertext = errors.New("malformed ciphertext")

// Service encrypts sensitive per-field data with AES-256-CBC. Each call
// draws a fresh random IV, so equal plaintexts never share ciphertext.
type Service struct {
	key []byte
}

// NewService builds the encryption service from a hex-encoded 32-byte
// key. An invalid key is a fatal configuration error for the caller: the
// service must not start without working encryption.
func NewService(hexKey string) (*Service, error) {
	if hexKey == "" {
		return nil, errors.New("encryption key is not configured")
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "decoding encryption key")
	}
	if len(key) != keySize {
		return nil, errors.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}
	return &Service{key: key}, nil
}

// Encrypt returns ivHex:cipherHex for the given plaintext.
func (s *Service) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", errors.Wrap(err, "creating cipher")
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", errors.Wrap(err, "generating iv")
	}

	padded := pad([]byte(plaintext))
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(encrypted, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(encrypted), nil
}

// Decrypt reverses Encrypt. Input that is not two hex parts joined by a
// colon fails with ErrMalformedCiphertext.
func (s *Service) Decrypt(encrypted string) (string, error) {
	parts := strings.Split(encrypted, ":")
	if len(parts) != 2 {
		return "", errors.Wrapf(ErrMalformedCiphertext, "expected 2 parts, got %d", len(parts))
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return "", errors.Wrap(ErrMalformedCiphertext, "invalid iv")
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", errors.Wrap(ErrMalformedCiphertext, "invalid ciphertext")
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", errors.Wrap(err, "creating cipher")
	}

	decrypted := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(decrypted, ciphertext)

	unpadded, err := unpad(decrypted)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

// CardData holds the sensitive card fields, either plaintext or
// encrypted depending on direction.
type CardData struct {
	Number     string
	ExpiryDate string
	CVC        string
}

// EncryptCardData encrypts each field independently. Three separate
// ciphertexts with three separate IVs, so exposure of one field never
// helps with the others.
func (s *Service) EncryptCardData(data CardData) (CardData, error) {
	number, err := s.Encrypt(data.Number)
	if err != nil {
		return CardData{}, err
	}
	expiry, err := s.Encrypt(data.ExpiryDate)
	if err != nil {
		return CardData{}, err
	}
	cvc, err := s.Encrypt(data.CVC)
	if err != nil {
		return CardData{}, err
	}
	return CardData{Number: number, ExpiryDate: expiry, CVC: cvc}, nil
}

// DecryptCardData reverses EncryptCardData.
func (s *Service) DecryptCardData(data CardData) (CardData, error) {
	number, err := s.Decrypt(data.Number)
	if err != nil {
		return CardData{}, err
	}
	expiry, err := s.Decrypt(data.ExpiryDate)
	if err != nil {
		return CardData{}, err
	}
	cvc, err := s.Decrypt(data.CVC)
	if err != nil {
		return CardData{}, err
	}
	return CardData{Number: number, ExpiryDate: expiry, CVC: cvc}, nil
}

// MaskCardNumber returns the display form of a PAN, keeping only the
// last four digits.
func MaskCardNumber(number string) string {
	digits := strings.ReplaceAll(number, " ", "")
	if len(digits) < 4 {
		return "**** **** **** ****"
	}
	return "**** **** **** " + digits[len(digits)-4:]
}

func pad(data []byte) []byte {
	padding := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrMalformedCiphertext, "empty plaintext")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(data) {
		return nil, errors.Wrap(ErrMalformedCiphertext, "invalid padding")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.Wrap(ErrMalformedCiphertext, "invalid padding")
		}
	}
	return data[:len(data)-padding], nil
}
