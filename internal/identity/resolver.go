package identity

import (
	"context"
	"encoding/hex"
	stdErrors "errors"
	"strings"

	"fiatjaf.com/nostr"
	"github.com/ethereum/go-ethereum/common"

	xerrors "ElizaDID/internal/errors"
)

// ErrIdentityNotFound 表示身份无法解析出公钥材料。
var ErrIdentityNotFound = xerrors.New(xerrors.CodeIdentityNotFound, "identity not found")

// Resolver 把 DID 解析为当前关联的公钥材料。
//
// 解析协议本身（DID 文档存放在哪里、如何校验）不在本模块实现，
// 具体信任模型由各实现自行声明。
type Resolver interface {
	Resolve(ctx context.Context, did string) (KeyMaterial, error)
}

// ResolverFunc 允许普通函数作为 Resolver 使用。
type ResolverFunc func(ctx context.Context, did string) (KeyMaterial, error)

// Resolve 实现 Resolver 接口。
func (f ResolverFunc) Resolve(ctx context.Context, did string) (KeyMaterial, error) {
	return f(ctx, did)
}

// IsNotFound 判断错误是否表示身份不存在。
func IsNotFound(err error) bool {
	return stdErrors.Is(err, ErrIdentityNotFound)
}

func notFound(did, reason string) error {
	return xerrors.New(xerrors.CodeIdentityNotFound, reason, xerrors.WithMetadata("did", did))
}

// SelfCertifyingResolver 解析公钥直接编码在标识符中的 DID：
//
//	did:ethr:[network:]0x<address>
//	did:pkh:eip155:<chain>:0x<address>
//	did:nostr:<x-only pubkey hex>
//	did:eliza:ed25519:<pubkey hex>
//
// 信任模型：密钥与标识符绑定，不需要外部查询，也不支持密钥轮换。
type SelfCertifyingResolver struct{}

// Resolve 实现 Resolver 接口。
func (SelfCertifyingResolver) Resolve(_ context.Context, raw string) (KeyMaterial, error) {
	did, err := ParseDID(raw)
	if err != nil {
		return KeyMaterial{}, xerrors.Wrap(xerrors.CodeIdentityNotFound, err, "无法解析 DID")
	}
	switch did.Method {
	case "ethr":
		return addressMaterial(raw, did.lastSegment())
	case "pkh":
		if !strings.HasPrefix(did.ID, "eip155:") {
			return KeyMaterial{}, notFound(raw, "仅支持 eip155 命名空间的 did:pkh")
		}
		return addressMaterial(raw, did.lastSegment())
	case "nostr":
		pk, err := nostr.PubKeyFromHex(did.ID)
		if err != nil {
			return KeyMaterial{}, xerrors.Wrap(xerrors.CodeIdentityNotFound, err, "非法的 nostr 公钥", xerrors.WithMetadata("did", raw))
		}
		key, err := hex.DecodeString(pk.Hex())
		if err != nil {
			return KeyMaterial{}, xerrors.Wrap(xerrors.CodeIdentityNotFound, err, "非法的 nostr 公钥", xerrors.WithMetadata("did", raw))
		}
		return KeyMaterial{Type: KeyTypeSchnorr, Key: key}, nil
	case "eliza":
		hexKey, ok := strings.CutPrefix(did.ID, "ed25519:")
		if !ok {
			return KeyMaterial{}, notFound(raw, "该 did:eliza 标识需要注册表解析")
		}
		km, err := ParseKeyMaterial(KeyTypeEd25519, hexKey)
		if err != nil {
			return KeyMaterial{}, xerrors.Wrap(xerrors.CodeIdentityNotFound, err, "非法的 ed25519 公钥", xerrors.WithMetadata("did", raw))
		}
		return km, nil
	default:
		return KeyMaterial{}, notFound(raw, "不支持的 DID 方法: "+did.Method)
	}
}

func addressMaterial(did, address string) (KeyMaterial, error) {
	if !common.IsHexAddress(address) {
		return KeyMaterial{}, notFound(did, "非法的以太坊地址: "+address)
	}
	return KeyMaterial{Type: KeyTypeSecp256k1, Key: common.HexToAddress(address).Bytes()}, nil
}

// ChainResolver 依次尝试多个解析器，第一个不是 NotFound 的结果生效。
type ChainResolver []Resolver

// Resolve 实现 Resolver 接口。
func (c ChainResolver) Resolve(ctx context.Context, did string) (KeyMaterial, error) {
	for _, resolver := range c {
		if resolver == nil {
			continue
		}
		km, err := resolver.Resolve(ctx, did)
		if err == nil {
			return km, nil
		}
		if !IsNotFound(err) {
			return KeyMaterial{}, err
		}
	}
	return KeyMaterial{}, notFound(did, "所有解析器均未找到该身份")
}
