package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
)

const hexSecret = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := New(hexSecret)
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	return s
}

func TestSealOpenRoundTrip(t *testing.T) {
	s := newTestSealer(t)

	for _, plain := range []string{"", "hello", `{"accessToken":"a.b.c"}`, strings.Repeat("ü", 512)} {
		env, err := s.Seal(plain)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		if parts := strings.Split(env, "."); len(parts) != 4 || parts[0] != Version {
			t.Fatalf("unexpected envelope shape %q", env)
		}
		got, ok := s.Open(env)
		if !ok {
			t.Fatalf("open failed for %q", plain)
		}
		if got != plain {
			t.Fatalf("round trip mismatch: got %q want %q", got, plain)
		}
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	s := newTestSealer(t)

	a, err := s.Seal("same")
	if err != nil {
		t.Fatalf("seal a: %v", err)
	}
	b, err := s.Seal("same")
	if err != nil {
		t.Fatalf("seal b: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct envelopes for identical plaintext")
	}
}

func TestOpenRejectsMalformed(t *testing.T) {
	s := newTestSealer(t)
	good, err := s.Seal("payload")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	parts := strings.Split(good, ".")

	shortNonce := b64.EncodeToString([]byte("short"))
	shortTag := b64.EncodeToString(make([]byte, 8))

	cases := map[string]string{
		"empty":         "",
		"three parts":   strings.Join(parts[:3], "."),
		"five parts":    good + ".x",
		"bad version":   "v2." + strings.Join(parts[1:], "."),
		"short nonce":   strings.Join([]string{parts[0], shortNonce, parts[2], parts[3]}, "."),
		"short tag":     strings.Join([]string{parts[0], parts[1], shortTag, parts[3]}, "."),
		"bad base64":    strings.Join([]string{parts[0], "!!!", parts[2], parts[3]}, "."),
		"tampered ct":   strings.Join([]string{parts[0], parts[1], parts[2], flip(parts[3])}, "."),
		"tampered tag":  strings.Join([]string{parts[0], parts[1], flip(parts[2]), parts[3]}, "."),
		"garbage":       "../../etc/passwd",
		"only dots":     "...",
		"swapped parts": strings.Join([]string{parts[0], parts[2], parts[1], parts[3]}, "."),
	}

	for name, env := range cases {
		if _, ok := s.Open(env); ok {
			t.Fatalf("%s: expected open to fail", name)
		}
	}
}

func TestOpenRejectsForeignKey(t *testing.T) {
	a := newTestSealer(t)
	b, err := New("a completely different secret")
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	env, err := a.Seal("secret data")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, ok := b.Open(env); ok {
		t.Fatal("expected foreign key to fail authentication")
	}
}

func TestOpenAcceptsPreviousSecret(t *testing.T) {
	old, err := New("old-secret")
	if err != nil {
		t.Fatalf("old sealer: %v", err)
	}
	env, err := old.Seal("rotated")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	rotated, err := New(hexSecret, "old-secret")
	if err != nil {
		t.Fatalf("rotated sealer: %v", err)
	}
	got, ok := rotated.Open(env)
	if !ok || got != "rotated" {
		t.Fatalf("expected previous secret to open envelope, got %q ok=%v", got, ok)
	}
}

func TestDeriveKeyForms(t *testing.T) {
	want, _ := hex.DecodeString(hexSecret)

	key, err := DeriveKey(hexSecret)
	if err != nil {
		t.Fatalf("hex derive: %v", err)
	}
	if !bytes.Equal(key[:], want) {
		t.Fatal("hex secret must decode verbatim")
	}

	key, err = DeriveKey(base64.StdEncoding.EncodeToString(want))
	if err != nil {
		t.Fatalf("base64 derive: %v", err)
	}
	if !bytes.Equal(key[:], want) {
		t.Fatal("base64 secret must decode verbatim")
	}

	key, err = DeriveKey(base64.RawURLEncoding.EncodeToString(want))
	if err != nil {
		t.Fatalf("base64url derive: %v", err)
	}
	if !bytes.Equal(key[:], want) {
		t.Fatal("base64url secret must decode verbatim")
	}

	k1, err := DeriveKey("correct horse battery staple")
	if err != nil {
		t.Fatalf("fallback derive: %v", err)
	}
	k2, _ := DeriveKey("correct horse battery staple")
	if k1 != k2 {
		t.Fatal("fallback derivation must be deterministic")
	}
	if k1 == ([KeySize]byte{}) {
		t.Fatal("fallback derivation produced zero key")
	}
}

func TestDeriveKeyRejectsEmpty(t *testing.T) {
	if _, err := DeriveKey("   "); err == nil {
		t.Fatal("expected empty secret to be rejected")
	}
	if _, err := New(""); err == nil {
		t.Fatal("expected New to reject empty secret")
	}
}

func FuzzOpenNeverPanics(f *testing.F) {
	s, err := New(hexSecret)
	if err != nil {
		f.Fatalf("new sealer: %v", err)
	}
	seed, _ := s.Seal("seed")
	f.Add(seed)
	f.Add("v1...")
	f.Add("v1.AAAAAAAAAAAAAAAA.AAAAAAAAAAAAAAAAAAAAAA.")

	f.Fuzz(func(t *testing.T, env string) {
		_, _ = s.Open(env)
	})
}

func flip(part string) string {
	raw, err := b64.DecodeString(part)
	if err != nil || len(raw) == 0 {
		return part + "A"
	}
	raw[0] ^= 0xff
	return b64.EncodeToString(raw)
}
