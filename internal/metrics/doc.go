// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、转发、会话、限流、缓存与数据库六个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
注册到默认或指定的 Registerer。所有指标按 namespace 隔离，
支持多维度 label 分组。Collector 的记录方法在 nil 接收者上为空操作。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 转发指标：按 provider/model/mode/outcome 统计的转发次数与耗时、
    首块延迟、Token 用量、线路事件计数、按 kind/code 分类的错误数。
  - 会话指标：已注册会话数与进行中的上游请求数 Gauge。
  - 限流指标：等待槽位耗时与拒绝次数，按 model 分组。
  - 缓存指标：API Key 缓存命中与未命中计数。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram。
*/
package metrics
