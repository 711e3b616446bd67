package identity

import (
	"context"
	"encoding/hex"
	"testing"
)

func generateSigners(t *testing.T) []Signer {
	t.Helper()
	eth, err := GenerateEthereumSigner()
	if err != nil {
		t.Fatalf("generate ethereum signer: %v", err)
	}
	ed, err := GenerateEd25519Signer()
	if err != nil {
		t.Fatalf("generate ed25519 signer: %v", err)
	}
	sch, err := GenerateSchnorrSigner()
	if err != nil {
		t.Fatalf("generate schnorr signer: %v", err)
	}
	return []Signer{eth, ed, sch}
}

func TestSignersRoundTrip(t *testing.T) {
	message := []byte(`transfer:{"amount":100,"to":"0xabc"}`)
	for _, signer := range generateSigners(t) {
		km := signer.PublicKey()
		t.Run(string(km.Type), func(t *testing.T) {
			sig, err := signer.Sign(message)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if !VerifySignature(km, message, sig) {
				t.Fatalf("expected signature to verify")
			}
			if VerifySignature(km, []byte(`transfer:{"amount":101,"to":"0xabc"}`), sig) {
				t.Fatalf("signature must not verify a different message")
			}
			tampered := append([]byte(nil), sig...)
			tampered[10] ^= 0xff
			if VerifySignature(km, message, tampered) {
				t.Fatalf("tampered signature must not verify")
			}
			if VerifySignature(km, message, sig[:len(sig)-1]) {
				t.Fatalf("truncated signature must not verify")
			}
			if VerifySignature(km, message, nil) {
				t.Fatalf("empty signature must not verify")
			}
		})
	}
}

func TestSelfCertifyingDIDsResolveToSignerKey(t *testing.T) {
	resolver := SelfCertifyingResolver{}
	message := []byte("vote:{}")
	for _, signer := range generateSigners(t) {
		km, err := resolver.Resolve(context.Background(), signer.DID())
		if err != nil {
			t.Fatalf("resolve %s: %v", signer.DID(), err)
		}
		sig, err := signer.Sign(message)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if !VerifySignature(km, message, sig) {
			t.Fatalf("signature by %s does not verify against resolved key", signer.DID())
		}
	}
}

func TestSecp256k1AcceptsRecoveryIDWithoutOffset(t *testing.T) {
	signer, err := GenerateEthereumSigner()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	message := []byte("swap:{}")
	sig, err := signer.Sign(message)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[64] -= 27
	if !VerifySignature(signer.PublicKey(), message, sig) {
		t.Fatalf("expected raw recovery id to verify")
	}
}

func TestSignatureFromOtherKeyRejected(t *testing.T) {
	alice, _ := GenerateEd25519Signer()
	bob, _ := GenerateEd25519Signer()
	message := []byte("transfer:{}")
	sig, err := bob.Sign(message)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if VerifySignature(alice.PublicKey(), message, sig) {
		t.Fatalf("signature from another key must not verify")
	}
}

func TestLoadSigner(t *testing.T) {
	const ethKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	signer, err := LoadSigner(KeyTypeSecp256k1, ethKey, "")
	if err != nil {
		t.Fatalf("load secp256k1 signer: %v", err)
	}
	if signer.DID() != "did:ethr:0x2c7536E3605D9C16a7a3D7b1898e529396a65c23" {
		t.Fatalf("unexpected did: %s", signer.DID())
	}

	seed := "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"
	named, err := LoadSigner(KeyTypeEd25519, seed, "did:eliza:agent-1")
	if err != nil {
		t.Fatalf("load ed25519 signer: %v", err)
	}
	if named.DID() != "did:eliza:agent-1" {
		t.Fatalf("expected explicit did, got %s", named.DID())
	}
	if named.PublicKey().Hex() != "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a" {
		t.Fatalf("unexpected ed25519 public key: %s", named.PublicKey().Hex())
	}

	if _, err := LoadSigner(KeyTypeSchnorr, "abcd", ""); err == nil {
		t.Fatalf("expected short schnorr key to fail")
	}
	if _, err := LoadSigner(KeyTypeEd25519, seed, "not-a-did"); err == nil {
		t.Fatalf("expected malformed did to fail")
	}
}

func TestLoadSignerChecksExpandedEd25519Key(t *testing.T) {
	const (
		seed   = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"
		public = "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a"
	)
	signer, err := LoadSigner(KeyTypeEd25519, seed+public, "")
	if err != nil {
		t.Fatalf("load expanded ed25519 key: %v", err)
	}
	if signer.PublicKey().Hex() != public {
		t.Fatalf("unexpected public key %s", signer.PublicKey().Hex())
	}

	other, err := GenerateEd25519Signer()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := LoadSigner(KeyTypeEd25519, seed+other.PublicKey().Hex(), ""); err == nil {
		t.Fatal("expected mismatched public half to be rejected")
	}
}

func TestParseKeyType(t *testing.T) {
	cases := map[string]KeyType{
		"secp256k1": KeyTypeSecp256k1,
		"Ethereum":  KeyTypeSecp256k1,
		"ed25519":   KeyTypeEd25519,
		"nostr":     KeyTypeSchnorr,
		" bip340 ":  KeyTypeSchnorr,
	}
	for raw, want := range cases {
		got, err := ParseKeyType(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %s, got %s", raw, want, got)
		}
	}
	if _, err := ParseKeyType("rsa"); err == nil {
		t.Fatalf("expected rsa to be rejected")
	}
}

func TestParseDID(t *testing.T) {
	did, err := ParseDID(" did:ethr:sepolia:0xabc ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if did.Method != "ethr" || did.ID != "sepolia:0xabc" {
		t.Fatalf("unexpected did: %+v", did)
	}
	if did.lastSegment() != "0xabc" {
		t.Fatalf("unexpected last segment: %s", did.lastSegment())
	}
	for _, raw := range []string{"", "ethr:0xabc", "did:", "did:ethr", "did:ETHR:x", "did:ethr:"} {
		if _, err := ParseDID(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestPrivateKeyBytesReload(t *testing.T) {
	eth, err := GenerateEthereumSigner()
	if err != nil {
		t.Fatalf("generate eth: %v", err)
	}
	ed, err := GenerateEd25519Signer()
	if err != nil {
		t.Fatalf("generate ed25519: %v", err)
	}
	sch, err := GenerateSchnorrSigner()
	if err != nil {
		t.Fatalf("generate schnorr: %v", err)
	}
	cases := []struct {
		keyType KeyType
		did     string
		secret  []byte
	}{
		{KeyTypeSecp256k1, eth.DID(), eth.PrivateKeyBytes()},
		{KeyTypeEd25519, ed.DID(), ed.PrivateKeyBytes()},
		{KeyTypeSchnorr, sch.DID(), sch.PrivateKeyBytes()},
	}
	for _, tc := range cases {
		loaded, err := LoadSigner(tc.keyType, hex.EncodeToString(tc.secret), "")
		if err != nil {
			t.Fatalf("%s: load: %v", tc.keyType, err)
		}
		if loaded.DID() != tc.did {
			t.Fatalf("%s: reloaded DID %s, want %s", tc.keyType, loaded.DID(), tc.did)
		}
	}
}
