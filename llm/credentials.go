package llm

import "encoding/json"

// Credentials 服务商凭据（API Key、AppID、SecretID/SecretKey）。
// 仅由构造它的 Provider 持有；String/GoString/MarshalJSON 均脱敏，避免进入日志或错误序列化结果。
type Credentials struct {
	APIKey    string
	AppID     string
	SecretID  string
	SecretKey string
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func (c Credentials) String() string {
	if c.APIKey == "" && c.AppID == "" && c.SecretID == "" && c.SecretKey == "" {
		return "Credentials{}"
	}
	return "Credentials{APIKey:" + mask(c.APIKey) +
		", AppID:" + c.AppID +
		", SecretID:" + mask(c.SecretID) +
		", SecretKey:" + mask(c.SecretKey) + "}"
}

func (c Credentials) GoString() string { return c.String() }

func (c Credentials) MarshalJSON() ([]byte, error) {
	type masked struct {
		APIKey    string `json:"api_key,omitempty"`
		AppID     string `json:"app_id,omitempty"`
		SecretID  string `json:"secret_id,omitempty"`
		SecretKey string `json:"secret_key,omitempty"`
	}
	return json.Marshal(masked{
		APIKey:    mask(c.APIKey),
		AppID:     c.AppID,
		SecretID:  mask(c.SecretID),
		SecretKey: mask(c.SecretKey),
	})
}

// IsZero 报告是否未配置任何凭据。
func (c Credentials) IsZero() bool {
	return c == Credentials{}
}
