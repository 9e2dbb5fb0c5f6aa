package deviceflow

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/wrale/device-grant/internal/validation"
)

const (
	// DeviceCodeBytes is the entropy of a device code; hex encoding doubles the length
	DeviceCodeBytes = 32

	// DefaultUserCodeLength is the user code length excluding the separator
	DefaultUserCodeLength = 8

	// maxUserCodeAttempts bounds rejection of codes that fail validation
	maxUserCodeAttempts = 100
)

// Generator produces device and user codes. It performs no I/O besides reading its random source.
type Generator struct {
	rand           io.Reader
	userCodeLength int
}

// NewGenerator creates a generator reading from r; a nil r uses crypto/rand
func NewGenerator(r io.Reader, userCodeLength int) *Generator {
	if r == nil {
		r = rand.Reader
	}
	if userCodeLength < validation.MinLength || userCodeLength > validation.MaxLength {
		userCodeLength = DefaultUserCodeLength
	}
	if userCodeLength%2 != 0 {
		userCodeLength++
	}
	return &Generator{rand: r, userCodeLength: userCodeLength}
}

// Generate returns a new device code and a canonical user code
func (g *Generator) Generate() (deviceCode, userCode string, err error) {
	deviceCode, err = g.deviceCode()
	if err != nil {
		return "", "", fmt.Errorf("generating device code: %w", err)
	}
	userCode, err = g.userCode()
	if err != nil {
		return "", "", fmt.Errorf("generating user code: %w", err)
	}
	return deviceCode, userCode, nil
}

func (g *Generator) deviceCode() (string, error) {
	b := make([]byte, DeviceCodeBytes)
	if _, err := io.ReadFull(g.rand, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// userCode draws from validation.ValidCharset per RFC 8628 section 6.1
func (g *Generator) userCode() (string, error) {
	charset := []byte(validation.ValidCharset)

	for attempt := 0; attempt < maxUserCodeAttempts; attempt++ {
		code := make([]byte, g.userCodeLength)
		for i := range code {
			c, err := g.randomChar(charset)
			if err != nil {
				return "", err
			}
			code[i] = c
		}
		if err := validation.ValidateUserCode(string(code)); err == nil {
			return string(code), nil
		}
	}

	return "", fmt.Errorf("failed to generate valid code after %d attempts", maxUserCodeAttempts)
}

// randomChar selects a random character without modulo bias
func (g *Generator) randomChar(charset []byte) (byte, error) {
	limit := 256 - (256 % len(charset))
	b := make([]byte, 1)
	for {
		if _, err := io.ReadFull(g.rand, b); err != nil {
			return 0, fmt.Errorf("generating random byte: %w", err)
		}
		// Reject values that would cause modulo bias
		if int(b[0]) >= limit {
			continue
		}
		return charset[int(b[0])%len(charset)], nil
	}
}
