package credential

import (
	"math"
	"strings"
	"time"

	xerrors "a2a-agent/internal/errors"
)

// Mode 决定调用方的任务以同步还是异步方式执行。
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

const (
	// DefaultMode 用于未配置或配置非法的凭证。
	DefaultMode = ModeAsync
	// DefaultTimeoutSeconds 是同步模式默认的等待时间。
	DefaultTimeoutSeconds = 30.0
)

// Credential 是一个调用方的只读配置。
type Credential struct {
	Name    string `yaml:"name" json:"name"`
	Key     string `yaml:"key" json:"-"`
	KeyHash string `yaml:"key_hash" json:"-"`
	// KeyID 是 key_hash 对应 key 的前缀（"<key_id>.<secret>"），认证时据此定位凭证。
	KeyID          string     `yaml:"key_id" json:"-"`
	Mode           Mode       `yaml:"mode" json:"mode"`
	TimeoutSeconds float64    `yaml:"timeout_seconds" json:"timeoutSeconds"`
	NotBefore      *time.Time `yaml:"not_before" json:"notBefore,omitempty"`
	ExpiresAt      *time.Time `yaml:"expires_at" json:"expiresAt,omitempty"`
}

// Timeout 返回同步模式下的等待时长。
func (c Credential) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// Sync 判断是否为同步模式。
func (c Credential) Sync() bool {
	return c.Mode == ModeSync
}

// ValidAt 判断凭证在给定时刻是否处于有效期内。
func (c Credential) ValidAt(t time.Time) bool {
	if c.NotBefore != nil && t.Before(*c.NotBefore) {
		return false
	}
	if c.ExpiresAt != nil && !t.Before(*c.ExpiresAt) {
		return false
	}
	return true
}

// normalize 修正非法的 mode 与 timeout，返回被修正的字段名。
func normalize(c Credential) (Credential, []string) {
	var corrected []string
	c.Name = strings.TrimSpace(c.Name)
	c.KeyID = strings.TrimSpace(c.KeyID)
	mode := Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	switch mode {
	case ModeSync, ModeAsync:
		c.Mode = mode
	default:
		if mode != "" {
			corrected = append(corrected, "mode")
		}
		c.Mode = DefaultMode
	}
	if c.TimeoutSeconds <= 0 || math.IsNaN(c.TimeoutSeconds) || math.IsInf(c.TimeoutSeconds, 0) {
		if c.TimeoutSeconds != 0 {
			corrected = append(corrected, "timeout_seconds")
		}
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return c, corrected
}

var (
	// ErrMissingCredential 表示请求没有携带凭证。
	ErrMissingCredential = xerrors.New(xerrors.CodeUnauthenticated, "missing credential")
	// ErrInvalidCredential 表示凭证无法识别。
	ErrInvalidCredential = xerrors.New(xerrors.CodeUnauthenticated, "invalid credential")
	// ErrCredentialInactive 表示凭证不在有效期内。
	ErrCredentialInactive = xerrors.New(xerrors.CodeUnauthenticated, "credential is not active")
)
