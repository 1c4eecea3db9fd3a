// Package config 负责加载 a2a-agentd 的 YAML 配置，补齐默认值，
// 并从环境变量中解析密钥类字段。
package config
