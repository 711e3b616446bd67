package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyType 表示身份所使用的签名算法。
type KeyType string

const (
	// KeyTypeSecp256k1 使用 EIP-191 personal_sign，并以恢复出的地址比对身份。
	KeyTypeSecp256k1 KeyType = "secp256k1"
	// KeyTypeEd25519 直接对规范消息做 Ed25519 签名。
	KeyTypeEd25519 KeyType = "ed25519"
	// KeyTypeSchnorr 对规范消息的 SHA-256 摘要做 BIP-340 签名（nostr 密钥）。
	KeyTypeSchnorr KeyType = "schnorr"
)

// KeyMaterial 是身份当前关联的公钥材料。
// secp256k1 的 Key 可以是 20 字节地址或 33/65 字节公钥。
type KeyMaterial struct {
	Type KeyType
	Key  []byte
}

// ParseKeyType 解析配置中的密钥类型。
func ParseKeyType(raw string) (KeyType, error) {
	switch KeyType(strings.ToLower(strings.TrimSpace(raw))) {
	case KeyTypeSecp256k1, "ethereum", "eth":
		return KeyTypeSecp256k1, nil
	case KeyTypeEd25519:
		return KeyTypeEd25519, nil
	case KeyTypeSchnorr, "nostr", "bip340":
		return KeyTypeSchnorr, nil
	default:
		return "", fmt.Errorf("不支持的密钥类型: %s", raw)
	}
}

// ParseKeyMaterial 从十六进制字符串构造公钥材料。
func ParseKeyMaterial(keyType KeyType, hexKey string) (KeyMaterial, error) {
	raw, err := decodeHex(hexKey)
	if err != nil {
		return KeyMaterial{}, err
	}
	km := KeyMaterial{Type: keyType, Key: raw}
	if err := km.Validate(); err != nil {
		return KeyMaterial{}, err
	}
	return km, nil
}

// Validate 检查公钥材料的结构是否合法。
func (k KeyMaterial) Validate() error {
	switch k.Type {
	case KeyTypeSecp256k1:
		_, err := k.address()
		return err
	case KeyTypeEd25519:
		if len(k.Key) != ed25519.PublicKeySize {
			return fmt.Errorf("ed25519 公钥长度应为 %d, 实际 %d", ed25519.PublicKeySize, len(k.Key))
		}
		return nil
	case KeyTypeSchnorr:
		if _, err := schnorr.ParsePubKey(k.Key); err != nil {
			return fmt.Errorf("非法的 schnorr 公钥: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("不支持的密钥类型: %s", k.Type)
	}
}

// Hex 返回公钥材料的十六进制表示。
func (k KeyMaterial) Hex() string {
	return hex.EncodeToString(k.Key)
}

func (k KeyMaterial) address() (common.Address, error) {
	switch len(k.Key) {
	case common.AddressLength:
		return common.BytesToAddress(k.Key), nil
	case 33:
		pub, err := crypto.DecompressPubkey(k.Key)
		if err != nil {
			return common.Address{}, fmt.Errorf("非法的压缩公钥: %w", err)
		}
		return crypto.PubkeyToAddress(*pub), nil
	case 65:
		pub, err := crypto.UnmarshalPubkey(k.Key)
		if err != nil {
			return common.Address{}, fmt.Errorf("非法的公钥: %w", err)
		}
		return crypto.PubkeyToAddress(*pub), nil
	default:
		return common.Address{}, fmt.Errorf("secp256k1 公钥材料长度非法: %d", len(k.Key))
	}
}

// VerifySignature 使用公钥材料校验签名。结构非法或不匹配的签名都返回 false。
func VerifySignature(km KeyMaterial, message, signature []byte) bool {
	switch km.Type {
	case KeyTypeSecp256k1:
		return verifySecp256k1(km, message, signature)
	case KeyTypeEd25519:
		if len(km.Key) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(km.Key), message, signature)
	case KeyTypeSchnorr:
		pub, err := schnorr.ParsePubKey(km.Key)
		if err != nil {
			return false
		}
		sig, err := schnorr.ParseSignature(signature)
		if err != nil {
			return false
		}
		digest := sha256.Sum256(message)
		return sig.Verify(digest[:], pub)
	default:
		return false
	}
}

func verifySecp256k1(km KeyMaterial, message, signature []byte) bool {
	if len(signature) != crypto.SignatureLength {
		return false
	}
	expected, err := km.address()
	if err != nil {
		return false
	}
	sig := append([]byte(nil), signature...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[crypto.RecoveryIDOffset], r, s, true) {
		return false
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == expected
}

func decodeHex(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if raw == "" {
		return nil, fmt.Errorf("十六进制内容为空")
	}
	out, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("非法的十六进制内容: %w", err)
	}
	return out, nil
}
