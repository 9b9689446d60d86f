// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 database 提供基于 GORM 的数据库连接与连接池管理。

# 概述

Open 根据 config.DatabaseConfig 选择方言（postgres / mysql / sqlite），
建立连接并交给 PoolManager 管理。sqlite 使用纯 Go 的 glebarez 驱动，
无需 cgo。PoolManager 负责连接池参数、后台健康检查与事务执行。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB / Ping / GetStats / Close
  - PoolConfig：最大空闲与打开连接数、连接生命周期、健康检查间隔
  - PoolStats：连接池运行指标
*/
package database
