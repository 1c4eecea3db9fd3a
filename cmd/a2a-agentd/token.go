package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"a2a-agent/internal/config"
	"a2a-agent/internal/credential"
)

func issueToken(w io.Writer, configPath, name string, ttl time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Credentials.JWT.Secret == "" {
		return errors.New("credentials.jwt.secret 未配置，无法签发令牌")
	}
	token, err := credential.IssueToken(cfg.Credentials.JWT.Secret, cfg.Credentials.JWT.Issuer, name, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

func hashKey(w io.Writer, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("请提供需要摘要的 API key")
	}
	id, ok := credential.KeyID(key)
	if !ok {
		return errors.New("API key 需要形如 <key_id>.<secret>")
	}
	hash, err := credential.HashKey(key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "key_id: %s\nkey_hash: %s\n", id, hash)
	return err
}
