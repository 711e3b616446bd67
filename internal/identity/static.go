package identity

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Document 是注册表文件中的一条身份记录。
type Document struct {
	ID        string `yaml:"id"`
	Type      string `yaml:"type"`
	PublicKey string `yaml:"public_key"`
	Revoked   bool   `yaml:"revoked"`
}

// registryFile 对应 identities.yaml 的结构。
type registryFile struct {
	Identities []Document `yaml:"identities"`
}

// StaticResolver 从运维维护的注册表解析身份。
// 信任模型：注册表内容由部署方负责，解析结果即为其声明的当前公钥。
type StaticResolver struct {
	mu   sync.RWMutex
	keys map[string]KeyMaterial
}

// NewStaticResolver 创建空注册表。
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{keys: make(map[string]KeyMaterial)}
}

// LoadStaticResolver 从 YAML 文件加载注册表。
func LoadStaticResolver(path string) (*StaticResolver, error) {
	if strings.TrimSpace(path) == "" {
		return NewStaticResolver(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取身份注册表失败: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析身份注册表失败: %w", err)
	}
	resolver := NewStaticResolver()
	for _, doc := range file.Identities {
		if IsSelfCertifying(doc.ID) {
			return nil, fmt.Errorf("身份 %s: 自证明 DID 的公钥由标识本身决定，不能在注册表中登记或吊销", doc.ID)
		}
		if doc.Revoked {
			continue
		}
		keyType, err := ParseKeyType(doc.Type)
		if err != nil {
			return nil, fmt.Errorf("身份 %s: %w", doc.ID, err)
		}
		km, err := ParseKeyMaterial(keyType, doc.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("身份 %s: %w", doc.ID, err)
		}
		if err := resolver.Register(doc.ID, km); err != nil {
			return nil, err
		}
	}
	return resolver, nil
}

// Register 登记或替换身份的公钥材料。自证明 DID 不能登记。
func (r *StaticResolver) Register(did string, km KeyMaterial) error {
	parsed, err := ParseDID(did)
	if err != nil {
		return err
	}
	if IsSelfCertifying(did) {
		return fmt.Errorf("身份 %s: 自证明 DID 不能在注册表中登记", did)
	}
	if err := km.Validate(); err != nil {
		return fmt.Errorf("身份 %s: %w", did, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[parsed.String()] = KeyMaterial{Type: km.Type, Key: append([]byte(nil), km.Key...)}
	return nil
}

// Revoke 移除身份，之后的解析将返回 NotFound。
func (r *StaticResolver) Revoke(did string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, strings.TrimSpace(did))
}

// IsSelfCertifying 判断 DID 能否由 SelfCertifyingResolver 直接解析。
// 这类身份的公钥绑定在标识上，无法轮换或吊销。
func IsSelfCertifying(did string) bool {
	_, err := SelfCertifyingResolver{}.Resolve(context.Background(), did)
	return err == nil
}

// Resolve 实现 Resolver 接口。
func (r *StaticResolver) Resolve(_ context.Context, did string) (KeyMaterial, error) {
	r.mu.RLock()
	km, ok := r.keys[strings.TrimSpace(did)]
	r.mu.RUnlock()
	if !ok {
		return KeyMaterial{}, notFound(did, "注册表中不存在该身份")
	}
	return KeyMaterial{Type: km.Type, Key: append([]byte(nil), km.Key...)}, nil
}

// Len 返回注册表中的身份数量。
func (r *StaticResolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}
