package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// StatusError 非 2xx 响应。429/5xx 由上层判定为瞬态。
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

type Client struct {
	client *resty.Client
}

// NewClient resty 会自动读取环境变量中的代理配置。
// 自动重试只作用于 GET：下单类请求的重试语义由执行层自己控制。
func NewClient(host string) *Client {
	host = strings.TrimSuffix(host, "/")

	client := resty.New().
		SetBaseURL(host).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}
			return resp.StatusCode() == 429 || resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流优先使用 Retry-After 头
			if resp.StatusCode() == 429 {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		})

	return &Client{client: client}
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "*/*")
	r.SetHeader("Connection", "keep-alive")
	return r
}

// Get 发起 GET 请求，结果解码到 out。
func (c *Client) Get(ctx context.Context, endpoint string, params, headers map[string]string, out any) error {
	r := c.newRequest(ctx)
	if params != nil {
		r.SetQueryParams(params)
	}
	if headers != nil {
		r.SetHeaders(headers)
	}
	if out != nil {
		r.SetResult(out)
	}
	resp, err := r.Get(endpoint)
	return wrapResponse(resp, err)
}

// Post 发起 JSON POST 请求
func (c *Client) Post(ctx context.Context, endpoint string, headers map[string]string, body, out any) error {
	r := c.newRequest(ctx)
	if headers != nil {
		r.SetHeaders(headers)
	}
	if body != nil {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(body)
	}
	if out != nil {
		r.SetResult(out)
	}
	resp, err := r.Post(endpoint)
	return wrapResponse(resp, err)
}

// Delete 发起 DELETE 请求
func (c *Client) Delete(ctx context.Context, endpoint string, headers map[string]string, body, out any) error {
	r := c.newRequest(ctx)
	if headers != nil {
		r.SetHeaders(headers)
	}
	if body != nil {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(body)
	}
	if out != nil {
		r.SetResult(out)
	}
	resp, err := r.Delete(endpoint)
	return wrapResponse(resp, err)
}

func wrapResponse(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Wrap(err, "http request")
	}
	if resp.IsSuccess() {
		return nil
	}
	return &StatusError{Code: resp.StatusCode(), Body: string(resp.Body())}
}
