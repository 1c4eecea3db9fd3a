package credential

import "context"

// credentialKey 是上下文中存储 Credential 的键类型。
type credentialKey struct{}

// WithCredential 将通过认证的调用方写入上下文。
func WithCredential(ctx context.Context, cred *Credential) context.Context {
	if cred == nil {
		return ctx
	}
	return context.WithValue(ctx, credentialKey{}, cred)
}

// FromContext 从上下文中取出调用方。
func FromContext(ctx context.Context) *Credential {
	if ctx == nil {
		return nil
	}
	if cred, ok := ctx.Value(credentialKey{}).(*Credential); ok {
		return cred
	}
	return nil
}
