package identity

import (
	"context"
	"testing"

	xerrors "ElizaDID/internal/errors"
)

func TestAuthorizerVerify(t *testing.T) {
	signer, err := GenerateEthereumSigner()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	authorizer := NewAuthorizer(SelfCertifyingResolver{})
	message := []byte(`transfer:{"amount":5}`)
	sig, err := signer.Sign(message)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	ok, err := authorizer.Verify(context.Background(), signer.DID(), message, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected valid signature to be accepted")
	}

	ok, err = authorizer.Verify(context.Background(), signer.DID(), []byte(`transfer:{"amount":6}`), sig)
	if err != nil {
		t.Fatalf("verify mismatch: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatched message to be rejected")
	}

	ok, err = authorizer.Verify(context.Background(), signer.DID(), message, []byte("garbage"))
	if err != nil || ok {
		t.Fatalf("expected malformed signature to be rejected without error, got ok=%v err=%v", ok, err)
	}
}

func TestAuthorizerUnresolvableIdentity(t *testing.T) {
	authorizer := NewAuthorizer(SelfCertifyingResolver{})
	ok, err := authorizer.Verify(context.Background(), "did:web:example.com", []byte("m"), []byte("s"))
	if ok {
		t.Fatalf("expected unresolvable identity to be rejected")
	}
	if !xerrors.HasCode(err, xerrors.CodeAuthorizationFailure) {
		t.Fatalf("expected AUTHORIZATION_FAILED, got %v", err)
	}
	if !IsNotFound(err) {
		t.Fatalf("expected cause to be identity not found, got %v", err)
	}
}

func TestAuthorizerAfterKeyRotation(t *testing.T) {
	oldKey, _ := GenerateEd25519Signer()
	newKey, _ := GenerateEd25519Signer()
	registry := NewStaticResolver()
	const did = "did:eliza:rotating"
	if err := registry.Register(did, oldKey.PublicKey()); err != nil {
		t.Fatalf("register: %v", err)
	}
	authorizer := NewAuthorizer(registry)
	message := []byte("vote:{}")
	oldSig, _ := oldKey.Sign(message)

	if ok, err := authorizer.Verify(context.Background(), did, message, oldSig); err != nil || !ok {
		t.Fatalf("expected old key to verify before rotation, ok=%v err=%v", ok, err)
	}
	if err := registry.Register(did, newKey.PublicKey()); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if ok, _ := authorizer.Verify(context.Background(), did, message, oldSig); ok {
		t.Fatalf("expected old key to be rejected after rotation")
	}
	newSig, _ := newKey.Sign(message)
	if ok, err := authorizer.Verify(context.Background(), did, message, newSig); err != nil || !ok {
		t.Fatalf("expected new key to verify, ok=%v err=%v", ok, err)
	}
}

func TestNilAuthorizer(t *testing.T) {
	var authorizer *Authorizer
	if _, err := authorizer.Verify(context.Background(), "did:eliza:x", nil, nil); !xerrors.HasCode(err, xerrors.CodeAuthorizationFailure) {
		t.Fatalf("expected AUTHORIZATION_FAILED, got %v", err)
	}
}
