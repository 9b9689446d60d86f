// Package tokenizer 估算提示词的 Token 数，
// OpenAI 兼容模型使用 tiktoken 精确计数，其余模型使用区分 CJK 的字符估算器。
// 结果写入交互记录，供用量核对使用。
package tokenizer
