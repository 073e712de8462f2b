package hunyuan

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/BaSui01/gptproxy/llm/transport"
)

// Signer 计算混元请求签名. 只持有 SecretKey，可并发使用.
type Signer struct {
	SecretKey string
}

// String 不输出密钥.
func (s Signer) String() string { return "Signer{SecretKey:***}" }

// Authenticate 实现 transport.Authenticator：对即将发送的请求体签名.
func (s Signer) Authenticate(req *http.Request, body any) error {
	r, ok := body.(*Request)
	if !ok {
		return fmt.Errorf("hunyuan: cannot sign body of type %T", body)
	}
	sig, err := s.Sign(req.Method, req.URL.Host, req.URL.Path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", sig)
	return nil
}

// Sign 返回 base64(HMAC-SHA1(SecretKey, Canonical(method, host, path, body))).
func (s Signer) Sign(method, host, path string, body *Request) (string, error) {
	canonical, err := Canonical(method, host, path, body)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha1.New, []byte(s.SecretKey))
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Canonical 构造待签名串：method+host+path?k=v&…，键按字典序排列，
// messages 以不转义 HTML 字符的 JSON 编码，与实际发送的请求体一致.
func Canonical(method, host, path string, body *Request) (string, error) {
	messages, err := transport.MarshalJSON(body.Messages)
	if err != nil {
		return "", fmt.Errorf("hunyuan: marshal messages: %w", err)
	}
	params := map[string]string{
		"app_id":      fmt.Sprint(body.AppID),
		"secret_id":   body.SecretID,
		"timestamp":   strconv.FormatInt(body.Timestamp, 10),
		"expired":     strconv.FormatInt(body.Expired, 10),
		"query_id":    body.QueryID,
		"temperature": formatFloat(body.Temperature),
		"top_p":       formatFloat(body.TopP),
		"stream":      strconv.Itoa(body.Stream),
		"messages":    string(messages),
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(strings.ToUpper(method))
	sb.WriteString(host)
	sb.WriteString(path)
	sb.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	return sb.String(), nil
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}
