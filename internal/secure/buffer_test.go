package secure

import (
	"bytes"
	"testing"
)

func TestBufferRoundTrip(t *testing.T) {
	secret := []byte("sk-super-secret")
	// memguard wipes the source slice when the enclave is created, so keep
	// an independent copy to compare the round trip against.
	want := append([]byte(nil), secret...)
	buf := NewBuffer(secret)

	locked, err := buf.Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer locked.Destroy()

	if !bytes.Equal(locked.Bytes(), want) {
		t.Error("decrypted bytes differ from input")
	}
}

func TestBufferWith(t *testing.T) {
	buf := NewBuffer([]byte("value"))

	var seen []byte
	err := buf.With(func(data []byte) error {
		seen = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		t.Fatalf("with: %v", err)
	}
	if string(seen) != "value" {
		t.Errorf("got %q", seen)
	}
}

func TestBufferDestroyIdempotent(t *testing.T) {
	buf := NewBuffer([]byte("value"))
	buf.Destroy()
	buf.Destroy()

	locked, err := buf.Open()
	if err != nil {
		t.Fatalf("open after destroy: %v", err)
	}
	defer locked.Destroy()
	if len(locked.Bytes()) != 0 {
		t.Error("destroyed buffer should open empty")
	}
}

func TestWipe(t *testing.T) {
	data := []byte{1, 2, 3}
	Wipe(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d not wiped", i)
		}
	}
}
