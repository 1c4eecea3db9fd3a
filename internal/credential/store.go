package credential

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	xerrors "a2a-agent/internal/errors"
	"a2a-agent/pkg/logger"
)

// Source 在启动时提供凭证列表。
type Source interface {
	Load(ctx context.Context) ([]Credential, error)
}

// Store 保存启动时加载的凭证，之后只读。
type Store struct {
	byName    map[string]Credential
	byKeyID   map[string]string
	ordered   []string
	jwtSecret []byte
	issuer    string
	now       func() time.Time
}

// StoreOption 定义可选配置。
type StoreOption func(*Store)

// WithJWTSecret 启用 Bearer JWT 认证，sub 声明为凭证名。
func WithJWTSecret(secret, issuer string) StoreOption {
	return func(s *Store) {
		if strings.TrimSpace(secret) != "" {
			s.jwtSecret = []byte(secret)
			s.issuer = issuer
		}
	}
}

// WithClock 替换时间源，主要用于测试。
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore 校验并保存凭证。非法的 mode 与 timeout 会被修正为默认值并记录日志。
func NewStore(creds []Credential, opts ...StoreOption) (*Store, error) {
	s := &Store{
		byName:  make(map[string]Credential, len(creds)),
		byKeyID: make(map[string]string),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	for _, raw := range creds {
		cred, corrected := normalize(raw)
		if cred.Name == "" {
			return nil, xerrors.New(xerrors.CodeInvalidParams, "credential name is required")
		}
		if _, dup := s.byName[cred.Name]; dup {
			return nil, xerrors.New(xerrors.CodeConflict, fmt.Sprintf("duplicate credential %q", cred.Name))
		}
		if cred.KeyHash != "" {
			if cred.KeyID == "" || strings.Contains(cred.KeyID, ".") {
				return nil, xerrors.New(xerrors.CodeInvalidParams,
					fmt.Sprintf("credential %q: key_id is required with key_hash and must not contain '.'", cred.Name))
			}
			if owner, dup := s.byKeyID[cred.KeyID]; dup {
				return nil, xerrors.New(xerrors.CodeConflict,
					fmt.Sprintf("credential %q: key_id %q already used by %q", cred.Name, cred.KeyID, owner))
			}
			s.byKeyID[cred.KeyID] = cred.Name
		}
		if len(corrected) > 0 {
			logger.L().Warn("凭证配置非法，已使用默认值",
				slog.String("credential", cred.Name),
				slog.Any("fields", corrected),
				slog.String("mode", string(cred.Mode)),
				slog.Float64("timeout_seconds", cred.TimeoutSeconds),
			)
		}
		s.byName[cred.Name] = cred
		s.ordered = append(s.ordered, cred.Name)
	}
	return s, nil
}

// Load 从多个来源依次读取凭证并构造 Store。
func Load(ctx context.Context, sources []Source, opts ...StoreOption) (*Store, error) {
	var all []Credential
	for _, src := range sources {
		if src == nil {
			continue
		}
		creds, err := src.Load(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, creds...)
	}
	return NewStore(all, opts...)
}

// Len 返回凭证数量。
func (s *Store) Len() int {
	return len(s.byName)
}

// Lookup 按名称返回凭证副本。
func (s *Store) Lookup(name string) (Credential, bool) {
	cred, ok := s.byName[name]
	return cred, ok
}

// Authenticate 使用 API Key 认证。明文 key 使用常量时间比较；
// key_hash 凭证按 key 前缀定位，每次请求最多做一次 bcrypt 比较。
func (s *Store) Authenticate(_ context.Context, apiKey string) (*Credential, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingCredential
	}
	if id, ok := KeyID(apiKey); ok {
		if name, found := s.byKeyID[id]; found {
			cred := s.byName[name]
			if bcrypt.CompareHashAndPassword([]byte(cred.KeyHash), []byte(apiKey)) == nil {
				return s.activate(cred)
			}
		}
	}
	for _, name := range s.ordered {
		cred := s.byName[name]
		if cred.Key != "" && subtle.ConstantTimeCompare([]byte(cred.Key), []byte(apiKey)) == 1 {
			return s.activate(cred)
		}
	}
	return nil, ErrInvalidCredential
}

// KeyID 返回 "<key_id>.<secret>" 形式 key 的前缀。
func KeyID(apiKey string) (string, bool) {
	id, secret, ok := strings.Cut(apiKey, ".")
	if !ok || id == "" || secret == "" {
		return "", false
	}
	return id, true
}

// AuthenticateToken 校验 HS256 JWT，sub 必须是已加载的凭证名。
func (s *Store) AuthenticateToken(_ context.Context, token string) (*Credential, error) {
	if len(s.jwtSecret) == 0 {
		return nil, ErrInvalidCredential
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, parserOpts...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidCredential
	}
	cred, ok := s.byName[claims.Subject]
	if !ok {
		return nil, ErrInvalidCredential
	}
	return s.activate(cred)
}

// AuthenticateRequest 根据请求头认证：优先 X-API-Key，其次 Authorization: Bearer。
// Bearer 值形如 JWT 时按令牌校验，否则按 API Key 校验。
func (s *Store) AuthenticateRequest(ctx context.Context, apiKeyHeader, authorization string) (*Credential, error) {
	if key := strings.TrimSpace(apiKeyHeader); key != "" {
		return s.Authenticate(ctx, key)
	}
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return nil, ErrMissingCredential
	}
	if len(authorization) < 7 || !strings.EqualFold(authorization[:7], "bearer ") {
		return nil, ErrInvalidCredential
	}
	value := strings.TrimSpace(authorization[7:])
	if strings.Count(value, ".") == 2 && len(s.jwtSecret) > 0 {
		return s.AuthenticateToken(ctx, value)
	}
	return s.Authenticate(ctx, value)
}

func (s *Store) activate(cred Credential) (*Credential, error) {
	if !cred.ValidAt(s.now()) {
		return nil, ErrCredentialInactive
	}
	out := cred
	return &out, nil
}

// IssueToken 为凭证签发 HS256 JWT。
func IssueToken(secret, issuer, name string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", xerrors.New(xerrors.CodeInvalidParams, "jwt secret is required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   name,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// HashKey 生成 key_hash 字段使用的 bcrypt 摘要。
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
