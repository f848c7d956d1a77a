package vault

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpen(t *testing.T) {
	v := New("correct horse battery staple")

	blob, err := v.Seal("api-key-12345")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(blob, []byte("api-key-12345")) {
		t.Fatal("sealed blob contains plaintext")
	}

	got, err := v.Open(blob)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got != "api-key-12345" {
		t.Errorf("got %q, want api-key-12345", got)
	}
}

func TestOpenWrongPassphrase(t *testing.T) {
	blob, err := New("passphrase-one").Seal("secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := New("passphrase-two").Open(blob); err == nil {
		t.Fatal("open with wrong passphrase should fail")
	}
}

func TestOpenMalformedBlob(t *testing.T) {
	v := New("passphrase")
	if _, err := v.Open([]byte{0x01, 0x02}); !errors.Is(err, ErrMalformedBlob) {
		t.Fatalf("err = %v, want ErrMalformedBlob", err)
	}
}

func TestSamePassphraseAcrossRestarts(t *testing.T) {
	blob, err := New("stable").Seal("token")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	// A fresh vault with the same passphrase must open older blobs.
	got, err := New("stable").Open(blob)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got != "token" {
		t.Errorf("got %q, want token", got)
	}
}
