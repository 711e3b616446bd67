package identity

import (
	"context"
	"log/slog"

	xerrors "ElizaDID/internal/errors"
)

// Authorizer 校验签名是否由身份当前关联的密钥生成。
type Authorizer struct {
	resolver Resolver
	logger   *slog.Logger
}

// AuthorizerOption 定义可选配置。
type AuthorizerOption func(*Authorizer)

// WithAuthorizerLogger 指定日志输出。
func WithAuthorizerLogger(logger *slog.Logger) AuthorizerOption {
	return func(a *Authorizer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAuthorizer 创建 Authorizer。
func NewAuthorizer(resolver Resolver, opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{resolver: resolver, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Verify 解析身份公钥并校验签名。
//
// 签名结构非法或不匹配时返回 (false, nil)；身份无法解析时返回
// AUTHORIZATION_FAILED 错误，调用方可以区分“被拒绝”与“无法判定”。
func (a *Authorizer) Verify(ctx context.Context, did string, message, signature []byte) (bool, error) {
	if a == nil || a.resolver == nil {
		return false, xerrors.New(xerrors.CodeAuthorizationFailure, "未配置身份解析器")
	}
	km, err := a.resolver.Resolve(ctx, did)
	if err != nil {
		a.logger.Warn("身份解析失败", slog.String("did", did), slog.Any("error", err))
		return false, xerrors.Wrap(xerrors.CodeAuthorizationFailure, err, "无法解析身份公钥",
			xerrors.WithMetadata("did", did),
			xerrors.WithMetadata("reason", "identity_unresolved"),
		)
	}
	if err := km.Validate(); err != nil {
		return false, xerrors.Wrap(xerrors.CodeAuthorizationFailure, err, "身份公钥材料非法",
			xerrors.WithMetadata("did", did),
			xerrors.WithMetadata("reason", "invalid_key_material"),
		)
	}
	ok := VerifySignature(km, message, signature)
	if !ok {
		a.logger.Debug("签名校验未通过", slog.String("did", did), slog.String("key_type", string(km.Type)))
	}
	return ok, nil
}
