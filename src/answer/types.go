package answer

// AnswerResponse 问答成功响应
type AnswerResponse struct {
	Answer string `json:"answer"`
}

// ErrorResponse 错误响应，不包含内部错误细节
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}
