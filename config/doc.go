// Package config 提供 ChatRelay 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（CHATRELAY_ 前缀）的顺序加载，
// 并提供目录文件的轮询监听器，用于模型与应用目录的热更新。
package config
