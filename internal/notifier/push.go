package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// PushResult 单个端点的投递结果
type PushResult struct {
	Token string `json:"token"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Provider 推送投递接口（外部网关实现；单元测试中替换为 fake）
type Provider interface {
	Send(ctx context.Context, tokens []string, title, body string) ([]PushResult, error)
}

// multicastRequest 网关多播请求
type multicastRequest struct {
	Tokens []string `json:"tokens"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
}

// multicastResponse 网关多播响应（逐端点结果）
type multicastResponse struct {
	Results []PushResult `json:"results"`
}

// GatewayClient 推送网关客户端
// 不启用自动重试：失败的投递只能由操作者显式重新触发，避免对端点的静默重试风暴
type GatewayClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewGatewayClient 创建推送网关客户端
func NewGatewayClient(baseURL, apiKey string, logger *zap.Logger) *GatewayClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(apiKey)

	return &GatewayClient{httpClient: client, logger: logger}
}

// Send 向网关发起一次多播投递，返回逐端点结果
func (c *GatewayClient) Send(ctx context.Context, tokens []string, title, body string) ([]PushResult, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	var out multicastResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(multicastRequest{Tokens: tokens, Title: title, Body: body}).
		SetResult(&out).
		Post("/v1/push/multicast")
	if err != nil {
		return nil, fmt.Errorf("push gateway request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("push gateway returned %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Debug("Push multicast sent",
		zap.Int("tokens", len(tokens)),
		zap.Int("results", len(out.Results)),
	)
	return out.Results, nil
}
