package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	out, err := Canonicalize([]byte(`{"b":1, "a":2}`))
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if string(out) != `{"a":2,"b":1}` {
		t.Errorf("canonical form = %s", out)
	}
}

func TestCanonicalizeRejectsMalformed(t *testing.T) {
	if _, err := Canonicalize([]byte(`{"a":`)); err == nil {
		t.Error("malformed JSON accepted")
	}
}

func TestSignableBytesFieldOrderIndependent(t *testing.T) {
	type record struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	}
	// Struct field order differs from canonical key order.
	b, err := SignableBytes(record{Name: "n", ID: "i"})
	if err != nil {
		t.Fatalf("SignableBytes: %v", err)
	}
	if string(b) != `{"id":"i","name":"n"}` {
		t.Errorf("signable bytes = %s", b)
	}
}

func TestSignableBytesNoHTMLEscaping(t *testing.T) {
	b, err := SignableBytes(map[string]string{"url": "a<b>&c"})
	if err != nil {
		t.Fatalf("SignableBytes: %v", err)
	}
	if strings.Contains(string(b), `<`) {
		t.Errorf("HTML-escaped output: %s", b)
	}
}

func TestHashBundleOrderIndependent(t *testing.T) {
	a := map[string][]byte{
		"main.js":  []byte("console.log(1)"),
		"util.js":  []byte("exports.x = 1"),
		"a/b/c.js": []byte("nested"),
	}
	b := map[string][]byte{
		"a/b/c.js": []byte("nested"),
		"util.js":  []byte("exports.x = 1"),
		"main.js":  []byte("console.log(1)"),
	}
	if HashBundle(a) != HashBundle(b) {
		t.Error("bundle hash depends on map construction order")
	}
}

func TestHashBundleKnownAnswer(t *testing.T) {
	files := map[string][]byte{
		"b.txt": []byte("bravo"),
		"a.txt": []byte("alpha"),
	}
	h := sha256.New()
	h.Write([]byte("a.txt"))
	h.Write([]byte("alpha"))
	h.Write([]byte("b.txt"))
	h.Write([]byte("bravo"))
	want := hex.EncodeToString(h.Sum(nil))

	if got := HashBundle(files); got != want {
		t.Errorf("HashBundle = %s, want %s", got, want)
	}
}

func TestHashBundleContentSensitive(t *testing.T) {
	base := map[string][]byte{"main.js": []byte("let x = 1")}
	flipped := map[string][]byte{"main.js": []byte("let x = 2")}
	if HashBundle(base) == HashBundle(flipped) {
		t.Error("content change did not change bundle hash")
	}

	renamed := map[string][]byte{"main2.js": []byte("let x = 1")}
	if HashBundle(base) == HashBundle(renamed) {
		t.Error("filename change did not change bundle hash")
	}
}

func TestHashBytes(t *testing.T) {
	want := sha256.Sum256([]byte("warden"))
	if got := HashBytes([]byte("warden")); got != hex.EncodeToString(want[:]) {
		t.Errorf("HashBytes = %s", got)
	}
}

func TestCanonicalHashStable(t *testing.T) {
	v := map[string]any{"z": 1, "a": "x"}
	h1, err := CanonicalHash(v)
	if err != nil {
		t.Fatalf("CanonicalHash: %v", err)
	}
	h2, _ := CanonicalHash(map[string]any{"a": "x", "z": 1})
	if h1 != h2 {
		t.Error("canonical hash differs for equal values")
	}
}
