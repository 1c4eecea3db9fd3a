package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"a2a-agent/internal/credential"
	xerrors "a2a-agent/internal/errors"
)

const defaultCredentialTable = "a2a_credentials"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// CredentialSource 在启动时从 MySQL 读取凭证，disabled 的记录被跳过。
type CredentialSource struct {
	cfg Config
}

var _ credential.Source = (*CredentialSource)(nil)

// NewCredentialSource 校验配置并返回数据源，连接在 Load 时建立。
func NewCredentialSource(cfg Config) (*CredentialSource, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidParams, "MySQL DSN 不能为空")
	}
	if cfg.Table == "" {
		cfg.Table = defaultCredentialTable
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, xerrors.New(xerrors.CodeInvalidParams, fmt.Sprintf("非法的凭证表名 %q", cfg.Table))
	}
	return &CredentialSource{cfg: cfg}, nil
}

// Load 实现 credential.Source。连接只在加载期间保持。
func (s *CredentialSource) Load(ctx context.Context) ([]credential.Credential, error) {
	db, err := openDatabase(ctx, s.cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开凭证数据库失败")
	}
	defer db.Close()

	if s.cfg.AutoMigrate && s.cfg.Table == defaultCredentialTable {
		if err := runMigrations(ctx, db); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "凭证表迁移失败")
		}
	}
	return queryCredentials(ctx, db, s.cfg.Table)
}

func queryCredentials(ctx context.Context, db *sql.DB, table string) ([]credential.Credential, error) {
	query := fmt.Sprintf(`SELECT name, api_key, key_hash, key_id, mode, timeout_seconds, not_before, expires_at
FROM %s WHERE disabled = 0 ORDER BY name`, table)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询凭证失败")
	}
	defer rows.Close()

	var creds []credential.Credential
	for rows.Next() {
		var r credentialRow
		if err := rows.Scan(&r.name, &r.apiKey, &r.keyHash, &r.keyID, &r.mode, &r.timeout, &r.notBefore, &r.expiresAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析凭证记录失败")
		}
		creds = append(creds, r.credential())
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历凭证记录失败")
	}
	return creds, nil
}

type credentialRow struct {
	name      string
	apiKey    sql.NullString
	keyHash   sql.NullString
	keyID     sql.NullString
	mode      sql.NullString
	timeout   sql.NullFloat64
	notBefore sql.NullTime
	expiresAt sql.NullTime
}

func (r credentialRow) credential() credential.Credential {
	cred := credential.Credential{
		Name:           r.name,
		Key:            r.apiKey.String,
		KeyHash:        r.keyHash.String,
		KeyID:          r.keyID.String,
		Mode:           credential.Mode(r.mode.String),
		TimeoutSeconds: r.timeout.Float64,
	}
	if r.notBefore.Valid {
		t := r.notBefore.Time
		cred.NotBefore = &t
	}
	if r.expiresAt.Valid {
		t := r.expiresAt.Time
		cred.ExpiresAt = &t
	}
	return cred
}
