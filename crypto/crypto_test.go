package crypto

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/btcsuite/btcd/btcec"

	"github.com/996BC/996.DHT/utils"
)

const testPassphrase = "test_password"

func TestSealUnseal(t *testing.T) {
	privKey, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := Seal([]byte(testPassphrase), privKey)
	if err != nil {
		t.Fatal(err)
	}

	restored, err := Unseal([]byte(testPassphrase), sealed)
	if err != nil {
		t.Fatal(err)
	}
	if err := utils.TCheckBytes("unsealed key", privKey.Serialize(), restored.Serialize()); err != nil {
		t.Fatal(err)
	}

	if _, err := Unseal([]byte("wrong_password"), sealed); err == nil {
		t.Fatal("expect unseal with a wrong passphrase failed")
	}
}

func TestPKeyRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "dht-pkey")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	privKey, err := NewPKey(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewPKey(dir); err == nil {
		t.Fatal("expect error when the pkey already exists")
	}

	restored, err := LoadKey(PlainKeyType, dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := utils.TCheckBytes("restored key", privKey.Serialize(), restored.Serialize()); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadKey(3, dir); err == nil {
		t.Fatal("expect invalid key type error")
	}
}

func TestNodeIDFromPubKey(t *testing.T) {
	keyBytes, _ := utils.FromHex("029ab6627bffd4ee5b5a6f1f96b2730980ca14033bd6f3a63764c1f1aedd3634eb")
	pubKey, err := btcec.ParsePubKey(keyBytes, btcec.S256())
	if err != nil {
		t.Fatal(err)
	}

	id1 := NodeIDFromPubKey(pubKey)
	id2 := NodeIDFromPubKey(pubKey)
	if id1 != id2 {
		t.Fatal("expect a stable node id for the same key")
	}
	if id1.IsZero() {
		t.Fatal("expect a non-zero node id")
	}

	parsed, err := ParseNodeID(id1.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != id1 {
		t.Fatalf("parse node id check failed:expect %v, result %v", id1, parsed)
	}

	if _, err := NodeIDFromBytes([]byte("short")); err == nil {
		t.Fatal("expect error on short node id")
	}
}

func TestCloser(t *testing.T) {
	var target, a, b NodeID
	a[19] = 0x01
	b[0] = 0x01

	if !Closer(target, a, b) {
		t.Fatal("expect a closer to target than b")
	}
	if Closer(target, b, a) {
		t.Fatal("expect b not closer to target than a")
	}
	if Closer(target, a, a) {
		t.Fatal("expect a not strictly closer than itself")
	}
	if Xor(a, a) != (NodeID{}) {
		t.Fatal("expect zero distance to itself")
	}
}
