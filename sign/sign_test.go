package sign

import (
	"strings"
	"testing"
)

// 签名必须是确定性的：相同输入永远得到相同输出。
func TestDeterministic(t *testing.T) {
	key := []byte("secret")
	msg := []byte("1234567890clientkey")
	if HMACSHA256UpperHex(key, msg) != HMACSHA256UpperHex(key, msg) {
		t.Fatal("hmac-sha256 not deterministic")
	}
	if HMACSHA512Hex(key, msg) != HMACSHA512Hex(key, msg) {
		t.Fatal("hmac-sha512 not deterministic")
	}
}

func TestKnownVectors(t *testing.T) {
	// RFC 4231 test case 2
	key := []byte("Jefe")
	msg := []byte("what do ya want for nothing?")
	if got := HMACSHA256Hex(key, msg); got != "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843" {
		t.Fatalf("hmac-sha256 vector mismatch: %s", got)
	}
	if got := HMACSHA512Hex(key, msg); got != "164b7a7bfcf819e2e395fbe73b56e0a387bd64222e831fd610270cd7ea2505549758bf75c05a994a6d034f65f8f0e6fdcaeab1a34d4a6b4b636e070a38bce737" {
		t.Fatalf("hmac-sha512 vector mismatch: %s", got)
	}
	if got := MD5Hex([]byte("abc")); got != "900150983cd24fb0d6963f7d28e17f72" {
		t.Fatalf("md5 vector mismatch: %s", got)
	}
}

func TestUpperHexVariants(t *testing.T) {
	key, msg := []byte("k"), []byte("m")
	up := HMACSHA256UpperHex(key, msg)
	if up != strings.ToUpper(HMACSHA256Hex(key, msg)) {
		t.Fatal("upper-hex variant mismatch")
	}
	if MD5UpperHex(msg) != strings.ToUpper(MD5Hex(msg)) {
		t.Fatal("md5 upper-hex variant mismatch")
	}
}

func TestSortedParams(t *testing.T) {
	got := SortedParams(map[string]string{
		"symbol":  "btc_usd",
		"amount":  "1",
		"partner": "42",
	})
	if got != "amount=1&partner=42&symbol=btc_usd" {
		t.Fatalf("sorted params %q", got)
	}
	if SortedParams(nil) != "" {
		t.Fatal("empty params should produce empty string")
	}
}

func TestBase64RoundTrip(t *testing.T) {
	enc := Base64Encode([]byte("payload"))
	dec, err := Base64Decode(enc)
	if err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if string(dec) != "payload" {
		t.Fatalf("roundtrip got %q", dec)
	}
}
