// Package worker 实现 Worker 节点的执行代理。
//
// Agent 向协调器注册，循环拉取 scope，按收集顺序逐个执行其中的测试项，
// 全部执行后上报完成。协调器要求停止时，Agent 在当前测试项结束后退出。
package worker
