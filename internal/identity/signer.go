package identity

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer 持有本地身份的私钥，用于生成与 VerifySignature 对应的签名。
type Signer interface {
	DID() string
	PublicKey() KeyMaterial
	Sign(message []byte) ([]byte, error)
}

// LoadSigner 根据密钥类型和十六进制私钥构造签名器。did 为空时使用自证明 DID。
func LoadSigner(keyType KeyType, hexKey, did string) (Signer, error) {
	raw, err := decodeHex(hexKey)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	var signer Signer
	switch keyType {
	case KeyTypeSecp256k1:
		key, err := crypto.ToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("非法的 secp256k1 私钥: %w", err)
		}
		signer = NewEthereumSigner(key)
	case KeyTypeEd25519:
		switch len(raw) {
		case ed25519.SeedSize:
			signer = NewEd25519Signer(ed25519.NewKeyFromSeed(raw))
		case ed25519.PrivateKeySize:
			key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
			if !bytes.Equal(key[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
				return nil, fmt.Errorf("ed25519 私钥的公钥部分与种子不匹配")
			}
			signer = NewEd25519Signer(key)
		default:
			return nil, fmt.Errorf("ed25519 私钥长度非法: %d", len(raw))
		}
	case KeyTypeSchnorr:
		if len(raw) != 32 {
			return nil, fmt.Errorf("schnorr 私钥长度非法: %d", len(raw))
		}
		priv, _ := btcec.PrivKeyFromBytes(raw)
		signer = NewSchnorrSigner(priv)
	default:
		return nil, fmt.Errorf("不支持的密钥类型: %s", keyType)
	}
	if did = strings.TrimSpace(did); did != "" {
		if _, err := ParseDID(did); err != nil {
			return nil, err
		}
		return WithDID(signer, did), nil
	}
	return signer, nil
}

// WithDID 让签名器以指定的 DID 对外声明身份，常用于在静态注册表中登记的身份。
func WithDID(signer Signer, did string) Signer {
	return &namedSigner{Signer: signer, did: did}
}

type namedSigner struct {
	Signer
	did string
}

func (n *namedSigner) DID() string { return n.did }

// EthereumSigner 使用 secp256k1 私钥生成 EIP-191 personal_sign 签名。
type EthereumSigner struct {
	key *ecdsa.PrivateKey
}

// NewEthereumSigner 创建 EthereumSigner。
func NewEthereumSigner(key *ecdsa.PrivateKey) *EthereumSigner {
	return &EthereumSigner{key: key}
}

// GenerateEthereumSigner 生成一把新的 secp256k1 密钥。
func GenerateEthereumSigner() (*EthereumSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("生成 secp256k1 密钥失败: %w", err)
	}
	return NewEthereumSigner(key), nil
}

// DID 返回 did:ethr 形式的身份。
func (s *EthereumSigner) DID() string {
	return "did:ethr:" + crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// PrivateKeyBytes 返回 32 字节私钥，供密钥导出使用。
func (s *EthereumSigner) PrivateKeyBytes() []byte {
	return crypto.FromECDSA(s.key)
}

// PublicKey 返回以地址表示的公钥材料。
func (s *EthereumSigner) PublicKey() KeyMaterial {
	return KeyMaterial{Type: KeyTypeSecp256k1, Key: crypto.PubkeyToAddress(s.key.PublicKey).Bytes()}
}

// Sign 返回 65 字节 [R || S || V] 签名，V 取 27/28。
func (s *EthereumSigner) Sign(message []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), s.key)
	if err != nil {
		return nil, fmt.Errorf("secp256k1 签名失败: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Ed25519Signer 使用 Ed25519 私钥签名。
type Ed25519Signer struct {
	key ed25519.PrivateKey
}

// NewEd25519Signer 创建 Ed25519Signer。
func NewEd25519Signer(key ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{key: key}
}

// GenerateEd25519Signer 生成一把新的 Ed25519 密钥。
func GenerateEd25519Signer() (*Ed25519Signer, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("生成 ed25519 密钥失败: %w", err)
	}
	return NewEd25519Signer(key), nil
}

// DID 返回 did:eliza:ed25519 形式的身份。
func (s *Ed25519Signer) DID() string {
	return "did:eliza:ed25519:" + hex.EncodeToString(s.key.Public().(ed25519.PublicKey))
}

// PrivateKeyBytes 返回 32 字节种子。
func (s *Ed25519Signer) PrivateKeyBytes() []byte {
	return s.key.Seed()
}

// PublicKey 返回 Ed25519 公钥。
func (s *Ed25519Signer) PublicKey() KeyMaterial {
	return KeyMaterial{Type: KeyTypeEd25519, Key: append([]byte(nil), s.key.Public().(ed25519.PublicKey)...)}
}

// Sign 对消息直接签名。
func (s *Ed25519Signer) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.key, message), nil
}

// SchnorrSigner 使用 BIP-340 schnorr 签名，与 nostr 密钥兼容。
type SchnorrSigner struct {
	key *btcec.PrivateKey
}

// NewSchnorrSigner 创建 SchnorrSigner。
func NewSchnorrSigner(key *btcec.PrivateKey) *SchnorrSigner {
	return &SchnorrSigner{key: key}
}

// GenerateSchnorrSigner 生成一把新的 secp256k1 schnorr 密钥。
func GenerateSchnorrSigner() (*SchnorrSigner, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("生成 schnorr 密钥失败: %w", err)
	}
	return NewSchnorrSigner(key), nil
}

// DID 返回 did:nostr 形式的身份。
func (s *SchnorrSigner) DID() string {
	return "did:nostr:" + hex.EncodeToString(schnorr.SerializePubKey(s.key.PubKey()))
}

// PrivateKeyBytes 返回 32 字节私钥。
func (s *SchnorrSigner) PrivateKeyBytes() []byte {
	return s.key.Serialize()
}

// PublicKey 返回 32 字节 x-only 公钥。
func (s *SchnorrSigner) PublicKey() KeyMaterial {
	return KeyMaterial{Type: KeyTypeSchnorr, Key: schnorr.SerializePubKey(s.key.PubKey())}
}

// Sign 对消息的 SHA-256 摘要签名。
func (s *SchnorrSigner) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	sig, err := schnorr.Sign(s.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("schnorr 签名失败: %w", err)
	}
	return sig.Serialize(), nil
}
