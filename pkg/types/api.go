// Package types provides API request/response types for REST communication.
// These types are used by both api/rest and api/rest/client.
package types

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WorkerRegisterRequest 表示 Worker 注册请求
type WorkerRegisterRequest struct {
	WorkerID string            `json:"worker_id,omitempty"`
	Name     string            `json:"name,omitempty"`
	Address  string            `json:"address,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
	Slots    int               `json:"slots,omitempty"`
}

// WorkerRegisterResponse 表示 Worker 注册响应
type WorkerRegisterResponse struct {
	WorkerID            string `json:"worker_id"`
	Slots               int    `json:"slots"`
	HeartbeatIntervalMS int64  `json:"heartbeat_interval_ms"`
}

// CapacityRequest 表示 Worker 上报的并发槽位
type CapacityRequest struct {
	Slots int `json:"slots"`
}

// CapacityResponse 表示剩余可用槽位
type CapacityResponse struct {
	Available int `json:"available"`
}

// CompletionRequest 表示 scope 完成上报
type CompletionRequest struct {
	Scope string `json:"scope"`
}

// HeartbeatResponse 表示心跳响应
type HeartbeatResponse struct {
	Stop bool `json:"stop"`
}

// HealthResponse 表示健康检查响应
type HealthResponse struct {
	Status    string         `json:"status"`
	Phase     SchedulerPhase `json:"phase"`
	Timestamp string         `json:"timestamp"`
}

// WorkerListResponse 表示 Worker 列表响应
type WorkerListResponse struct {
	Workers []WorkerSnapshot `json:"workers"`
	Total   int              `json:"total"`
}
