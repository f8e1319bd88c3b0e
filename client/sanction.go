/*
 * @module client/sanction
 * @description 制裁名单来源客户端：从上游拉取制裁名单条目，供本地名单表同步
 * @architecture 适配器模式 - 封装外部制裁名单源的HTTP接口
 * @documentReference ai_docs/deduplication_req.md
 * @stateFlow 拉取条目 -> 调用方写入本地名单表 -> 筛查走本地表
 * @dependencies net/http, encoding/json
 * @refs service/deduplication/sanction.go
 */

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// SanctionEntry 上游制裁名单条目
type SanctionEntry struct {
	ReferenceNumber string `json:"reference_number"`
	FullName        string `json:"full_name"`
	BirthDate       string `json:"birth_date,omitempty"`
	DocumentNumber  string `json:"document_number,omitempty"`
	CountryCode     string `json:"country_code,omitempty"`
}

// SanctionSourceClient 制裁名单来源客户端接口
type SanctionSourceClient interface {
	// FetchEntries 拉取全量制裁名单条目
	FetchEntries(ctx context.Context) ([]SanctionEntry, error)
}

// HTTPSanctionSourceClient 基于HTTP的制裁名单来源客户端实现
type HTTPSanctionSourceClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSanctionSourceClient 创建制裁名单来源客户端，URL 来自环境变量 SANCTION_SOURCE_URL
func NewHTTPSanctionSourceClient() *HTTPSanctionSourceClient {
	baseURL := os.Getenv("SANCTION_SOURCE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8091"
	}
	return &HTTPSanctionSourceClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// FetchEntries 拉取全量名单
func (c *HTTPSanctionSourceClient) FetchEntries(ctx context.Context) ([]SanctionEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sanction_list/entries", nil)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("制裁名单源返回异常状态: %d", resp.StatusCode)
	}

	var out struct {
		Entries []SanctionEntry `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	return out.Entries, nil
}
