// 统一响应结构
package system

// APIResponse 通用API响应结构
type APIResponse struct {
	Code    int         `json:"code,omitempty"`  // 响应状态码，可选
	Status  string      `json:"status"`          // 响应状态："success" 或 "error"
	Message string      `json:"message"`         // 响应消息
	Data    interface{} `json:"data,omitempty"`  // 响应数据，可选
	Error   string      `json:"error,omitempty"` // 错误信息，可选
}

// Success 构造成功响应
func Success(code int, message string, data interface{}) APIResponse {
	return APIResponse{Code: code, Status: "success", Message: message, Data: data}
}

// Fail 构造失败响应
func Fail(code int, message string, err error) APIResponse {
	resp := APIResponse{Code: code, Status: "error", Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}
