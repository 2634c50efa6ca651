// Copyright 2026 TutorFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 TutorFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor
  - 数据工具: MustJSON / MustParseJSON
  - 流式辅助: CollectStreamContent / SendChunksToChannel

# 子包

  - testutil/mocks: MockProvider（LLM Provider），支持脚本响应与错误注入
  - testutil/fixtures: 测验题与 Agent 回复样例

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewScriptedProvider("Tutor", "Hello!")
	resp, err := provider.Completion(ctx, req)
*/
package testutil
