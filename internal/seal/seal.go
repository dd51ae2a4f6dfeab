// Package seal is the payload codec shared by survivor nodes and the command
// side. Content is age-encrypted to one x25519 identity both ends hold, then
// base64 encoded so it travels as a JSON string. Relays never open it.
package seal

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// ErrDecode means sealed content was tampered with, truncated, or sealed
// for a different key.
var ErrDecode = errors.New("seal: cannot decode sealed content")

type Codec struct {
	identity *age.X25519Identity
}

func New(identity *age.X25519Identity) *Codec { return &Codec{identity: identity} }

// GenerateKey creates a new key file at path; it refuses to overwrite one.
func GenerateKey(path string) (*Codec, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating key file: %w", err)
	}
	if _, err := fmt.Fprintln(f, identity.String()); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return New(identity), nil
}

// LoadKey reads the identity stored at path.
func LoadKey(path string) (*Codec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("parsing key file %s: %w", path, err)
	}
	return New(identity), nil
}

// LoadOrCreateKey loads the key at path, generating it on first use.
func LoadOrCreateKey(path string) (*Codec, error) {
	c, err := LoadKey(path)
	if errors.Is(err, os.ErrNotExist) {
		c, err = GenerateKey(path)
		if errors.Is(err, os.ErrExist) {
			return LoadKey(path)
		}
	}
	return c, err
}

// Recipient is the public half of the key, safe to print.
func (c *Codec) Recipient() string { return c.identity.Recipient().String() }

func (c *Codec) Seal(plaintext []byte) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (c *Codec) Unseal(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sealed))
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), c.identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return plaintext, nil
}

func (c *Codec) SealJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return c.Seal(b)
}

func (c *Codec) UnsealJSON(sealed string, v any) error {
	b, err := c.Unseal(sealed)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
