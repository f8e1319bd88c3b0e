/*
 * @module client/search_index
 * @description 搜索索引客户端：按姓名/出生日期/电话指纹检索带相似度得分的候选个人（金记录查重召回）
 * @architecture 适配器模式 - 封装外部搜索索引的HTTP接口
 * @documentReference ai_docs/deduplication_req.md
 * @stateFlow 指纹构造 -> 索引查询 -> 返回按得分排序的候选列表
 * @rules 客户端以接口形式注入查重管道，测试中用 mock 替换
 * @dependencies net/http, encoding/json
 * @refs service/deduplication/engine.go
 */

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// SearchCandidate 候选个人及相似度得分
type SearchCandidate struct {
	IndividualID string  `json:"individual_id"`
	Score        float64 `json:"score"`
}

// BiographicQuery 生平字段指纹查询
type BiographicQuery struct {
	ProgramID  string   `json:"program_id"`
	FullName   string   `json:"full_name"`
	BirthDate  string   `json:"birth_date"` // YYYY-MM-DD
	PhoneNo    string   `json:"phone_no,omitempty"`
	ExcludeIDs []string `json:"exclude_ids,omitempty"`
	MinScore   float64  `json:"min_score,omitempty"`
}

// IndividualDocument 写入索引的个人文档
type IndividualDocument struct {
	IndividualID string `json:"individual_id"`
	ProgramID    string `json:"program_id"`
	FullName     string `json:"full_name"`
	BirthDate    string `json:"birth_date"`
	PhoneNo      string `json:"phone_no,omitempty"`
}

// SearchIndexClient 搜索索引客户端接口
type SearchIndexClient interface {
	// SearchSimilar 返回与指纹相似的候选个人，按得分降序
	SearchSimilar(ctx context.Context, query *BiographicQuery) ([]SearchCandidate, error)
	// IndexIndividuals 批量写入个人文档
	IndexIndividuals(ctx context.Context, docs []IndividualDocument) error
}

// HTTPSearchIndexClient 基于HTTP的搜索索引客户端实现
type HTTPSearchIndexClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSearchIndexClient 创建搜索索引客户端，URL 来自环境变量 SEARCH_INDEX_URL
func NewHTTPSearchIndexClient() *HTTPSearchIndexClient {
	baseURL := os.Getenv("SEARCH_INDEX_URL")
	if baseURL == "" {
		baseURL = "http://localhost:9200"
	}
	return &HTTPSearchIndexClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SearchSimilar 执行相似检索
func (c *HTTPSearchIndexClient) SearchSimilar(ctx context.Context, query *BiographicQuery) ([]SearchCandidate, error) {
	var resp struct {
		Candidates []SearchCandidate `json:"candidates"`
	}
	if err := c.postJSON(ctx, "/individuals/_search_similar", query, &resp); err != nil {
		return nil, err
	}
	return resp.Candidates, nil
}

// IndexIndividuals 批量写入索引
func (c *HTTPSearchIndexClient) IndexIndividuals(ctx context.Context, docs []IndividualDocument) error {
	payload := map[string]interface{}{"documents": docs}
	return c.postJSON(ctx, "/individuals/_bulk", payload, nil)
}

// postJSON 统一的JSON请求封装
func (c *HTTPSearchIndexClient) postJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("搜索索引返回异常状态: %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("解析响应失败: %w", err)
		}
	}
	return nil
}
