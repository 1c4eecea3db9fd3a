package credential

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSource 从 YAML 文件读取凭证。
type FileSource struct {
	Path string
}

type credentialFile struct {
	Credentials []Credential `yaml:"credentials"`
}

// Load 实现 Source。
func (f FileSource) Load(_ context.Context) ([]Credential, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("读取凭证文件失败: %w", err)
	}
	var doc credentialFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("解析凭证文件失败: %w", err)
	}
	return doc.Credentials, nil
}

// StaticSource 直接提供内存中的凭证，常用于配置文件内联与测试。
type StaticSource []Credential

// Load 实现 Source。
func (s StaticSource) Load(context.Context) ([]Credential, error) {
	return append([]Credential(nil), s...), nil
}
