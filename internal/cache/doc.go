// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 cache 提供基于 Redis 的键值缓存，用于缓存解析得到的提供商 API Key。

# 核心类型

  - Manager：封装 go-redis 客户端，所有键自动加上 KeyPrefix 前缀，
    提供 Get/Set/Ping/GetStats/Close，以及后台健康检查
  - Config：地址、密码、连接池、默认 TTL、键前缀与健康检查间隔
  - Stats：从 INFO 输出解析的命中、未命中与连接数

# 错误语义

未命中返回 ErrCacheMiss，可用 IsCacheMiss 判断。关闭后的调用返回 ErrClosed。
*/
package cache
