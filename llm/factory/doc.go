// Package factory 提供 Provider 策略的集中式工厂，
// 按 Provider ID 创建并注册 openai / anthropic / google / mistral / local 策略，
// 打破 llm 包与各 provider 子包之间的循环依赖。
package factory
