// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 catalog 提供模型、应用与权限分组目录。

# 概述

目录文件为 YAML（JSON 作为 YAML 子集同样可读），包含四部分：

  - default_model：默认模型 ID
  - models：模型描述（provider、服务商模型名、端点、最大输出 token、是否支持工具）
  - apps：应用配置（系统提示词、偏好模型、偏好温度、默认 max_tokens、工具）
  - groups：用户分组到可用模型列表的映射，"*" 表示全部模型

# 核心类型

  - Catalog：实现 relay.ModelCatalog 与 relay.PermissionChecker，
    通过 config.FileWatcher 轮询文件并原子替换快照
  - Snapshot：一次成功解析的不可变目录内容

重新加载失败时保留上一份快照并记录日志。
*/
package catalog
