package transport

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// 所有交易所统一的请求超时，对应调用方“完成、超时或出错”的阻塞模型。
const RequestTimeout = 10 * time.Second

// Client 面向单个交易所的 REST 辅助层。HTTPClient 可注入 httptest 的
// 客户端；不发起真实网络调用的测试都走这里。
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    RateLimiter
	Logger     *zap.Logger
}

// NewDefaultHTTPClient 带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: RequestTimeout}
}

func (c *Client) log() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// Get 公共接口查询。返回原始响应体与状态码，语义判断留给各交易所。
func (c *Client) Get(path string, query url.Values) ([]byte, int, error) {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	return c.do(req)
}

// PostForm 表单编码的 POST，私有接口的主要形态。headers 携带签名字段。
func (c *Client) PostForm(path string, form url.Values, headers http.Header) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.do(req)
}

// PostJSON JSON 报文的 POST（lakebtc 的 JSON-RPC）。
func (c *Client) PostJSON(path string, body []byte, headers http.Header) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	if c.Limiter != nil {
		c.Limiter.Wait()
	}
	cli := c.HTTPClient
	if cli == nil {
		cli = NewDefaultHTTPClient()
	}
	start := time.Now()
	resp, err := cli.Do(req)
	if err != nil {
		c.log().Debug("request failed",
			zap.String("url", req.URL.String()),
			zap.Error(err))
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	c.log().Debug("request done",
		zap.String("url", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	return body, resp.StatusCode, nil
}
