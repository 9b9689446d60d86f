// Package tlsutil 提供访问模型服务商的 HTTP 客户端，
// 统一 TLS 加固（TLS 1.2+，仅 AEAD 密码套件）与连接池参数。
package tlsutil
