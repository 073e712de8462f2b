// Package telemetry 封装 OpenTelemetry 追踪 SDK 的初始化，
// 为 gptproxy 提供集中式的 TracerProvider 配置。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
