package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"neotask/internal/config"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

const defaultUserAgent = "Mozilla/5.0 (compatible; LocalAIBot/1.0)"

// Fetcher 页面抓取，按 Content-Type 转码为 UTF-8 并限制响应体大小
type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// NewFetcher 创建页面抓取器
func NewFetcher(cfg config.WebExecutorConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 5 << 20
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		userAgent:    ua,
		maxBodyBytes: maxBody,
	}
}

// FetchHTML 抓取页面原始 HTML
func (f *Fetcher) FetchHTML(ctx context.Context, url string) (string, error) {
	body, err := f.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Document 抓取页面并解析为 goquery 文档
func (f *Fetcher) Document(ctx context.Context, url string) (*goquery.Document, error) {
	body, err := f.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	return doc, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	reader, err := charset.NewReader(io.LimitReader(resp.Body, f.maxBodyBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

// do 发送请求，非 2xx 视为失败
func (f *Fetcher) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch page: HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}
