// Copyright 2026 TutorFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package tutor 实现多 agent 辅导会话。

# 概述

一个会话由三个 agent 组成的群聊驱动：

  - Tutor：主模型上的导师，讲解知识并点评答案
  - Evaluator：推理模型上的评估者，分析错误模式与知识缺口
  - QuizCreator：主模型上的出题者，每次给出一道带 JSON 块的单选题

每轮用户输入先经 Classify 归类（exit、reset、测验请求、答案、普通消息），
再由 Session 更新状态机（chat、quiz、review）与 tracker，随后 GroupChat
按 SelectionStrategy 选择发言者、按 TerminationStrategy 决定何时结束本轮。
测验中 tracker 判定需要复习时，会话切换到 review 并立即请 Evaluator 分析。

# 持久化

Manager 在每轮结束后把 tracker、状态、主题与待答题目写入
persistence.Store，内存未命中时从存储恢复。群聊历史不持久化。
*/
package tutor
