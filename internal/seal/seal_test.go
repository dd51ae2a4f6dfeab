package seal

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSealRoundTrip(t *testing.T) {
	c, err := GenerateKey(filepath.Join(t.TempDir(), "secret.key"))
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := c.Seal([]byte("trapped under rubble"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(sealed, "rubble") {
		t.Fatal("plaintext visible in sealed content")
	}
	got, err := c.Unseal(sealed)
	if err != nil || string(got) != "trapped under rubble" {
		t.Fatalf("Unseal = %q, %v", got, err)
	}
}

func TestUnsealRejectsTampering(t *testing.T) {
	c, _ := GenerateKey(filepath.Join(t.TempDir(), "secret.key"))
	other, _ := GenerateKey(filepath.Join(t.TempDir(), "other.key"))
	sealed, _ := c.Seal([]byte("hello"))

	raw := []byte(sealed)
	raw[len(raw)/2] ^= 0x01

	tests := map[string]string{
		"not base64":  "%%%",
		"garbage":     "aGVsbG8=",
		"flipped bit": string(raw),
	}
	for name, in := range tests {
		if _, err := c.Unseal(in); !errors.Is(err, ErrDecode) {
			t.Errorf("%s: err = %v, want ErrDecode", name, err)
		}
	}
	if _, err := other.Unseal(sealed); !errors.Is(err, ErrDecode) {
		t.Errorf("wrong key: err = %v, want ErrDecode", err)
	}
}

func TestLoadOrCreateKeyReusesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "secret.key")
	a, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if a.Recipient() != b.Recipient() {
		t.Fatal("second load generated a new key")
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("key file mode = %v", fi.Mode().Perm())
	}
	if _, err := GenerateKey(path); err == nil {
		t.Fatal("GenerateKey overwrote an existing key")
	}
}

func TestSealJSON(t *testing.T) {
	c, _ := GenerateKey(filepath.Join(t.TempDir(), "secret.key"))
	type msg struct {
		Text string `json:"text"`
	}
	sealed, err := c.SealJSON(msg{Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	var out msg
	if err := c.UnsealJSON(sealed, &out); err != nil || out.Text != "hi" {
		t.Fatalf("UnsealJSON = %+v, %v", out, err)
	}

	notJSON, _ := c.Seal([]byte("plain"))
	if err := c.UnsealJSON(notJSON, &out); !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}
