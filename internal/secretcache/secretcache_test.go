package secretcache

import (
	"context"
	"io"
	"log"
	"testing"

	"golang.org/x/crypto/nacl/secretbox"
)

func testLog() *log.Logger { return log.New(io.Discard, "", 0) }

func sealOne(t *testing.T, key [KeySize]byte, nonceByte byte, content string) []byte {
	t.Helper()
	var nonce [24]byte
	for i := range nonce {
		nonce[i] = nonceByte
	}
	return secretbox.Seal(nonce[:], []byte(content), &nonce, &key)
}

func TestDecryptReturnsSealedSecrets(t *testing.T) {
	var key [KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	blob := sealOne(t, key, 1, "super-secret-token")

	c := New(testLog())
	c.Put("acme", key, []string{"github_token"}, [][]byte{blob})

	got, err := c.Decrypt(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if len(got) != 1 || got[0].Name != "github_token" || string(got[0].Content) != "super-secret-token" {
		t.Fatalf("Decrypt = %+v, want one github_token secret", got)
	}
}

func TestDecryptSkipsCorruptSecretWithoutFailing(t *testing.T) {
	var key [KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	good := sealOne(t, key, 2, "ok")
	bad := append([]byte(nil), good...)
	bad[30] ^= 0xFF // corrupt ciphertext

	c := New(testLog())
	c.Put("acme", key, []string{"good", "bad"}, [][]byte{good, bad})

	got, err := c.Decrypt(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if len(got) != 1 || got[0].Name != "good" {
		t.Fatalf("Decrypt = %+v, want only the good secret", got)
	}
}

func TestDecryptUnknownOriginReturnsEmpty(t *testing.T) {
	c := New(testLog())
	got, err := c.Decrypt(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Decrypt for unknown origin = %+v, want empty", got)
	}
}
