/*
 * @module client/biometric
 * @description 生物特征查重引擎客户端：创建查重集、批量上传人像、触发比对、拉取相似对
 * @architecture 适配器模式 - 封装外部生物特征引擎的HTTP接口
 * @documentReference ai_docs/deduplication_req.md
 * @stateFlow 创建查重集 -> 批量上传 -> 触发处理 -> 轮询/拉取相似对
 * @rules 任一步骤失败由调用方决定批次是否判定失败，本层只负责传输
 * @dependencies net/http, encoding/json
 * @refs service/deduplication/pipeline.go
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

// FaceImage 待上传的人像
type FaceImage struct {
	IndividualID string `json:"individual_id"`
	PhotoKey     string `json:"photo_key"`
}

// SimilarityPair 引擎判定的相似个人对
type SimilarityPair struct {
	FirstIndividualID  string  `json:"first_individual_id"`
	SecondIndividualID string  `json:"second_individual_id"`
	Score              float64 `json:"score"`
}

// BiometricClient 生物特征查重引擎客户端接口
type BiometricClient interface {
	// CreateDeduplicationSet 为项目创建查重集，返回集合ID
	CreateDeduplicationSet(ctx context.Context, programID string) (string, error)
	// UploadImages 批量上传人像到查重集
	UploadImages(ctx context.Context, setID string, images []FaceImage) error
	// TriggerProcessing 触发查重集比对
	TriggerProcessing(ctx context.Context, setID string) error
	// GetSimilarityPairs 拉取得分不低于阈值的相似对
	GetSimilarityPairs(ctx context.Context, setID string, threshold float64) ([]SimilarityPair, error)
}

// HTTPBiometricClient 基于HTTP的生物特征引擎客户端实现
type HTTPBiometricClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPBiometricClient 创建生物特征引擎客户端，URL 来自环境变量 BIOMETRIC_ENGINE_URL
func NewHTTPBiometricClient() *HTTPBiometricClient {
	baseURL := os.Getenv("BIOMETRIC_ENGINE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8090"
	}
	return &HTTPBiometricClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// CreateDeduplicationSet 创建查重集
func (c *HTTPBiometricClient) CreateDeduplicationSet(ctx context.Context, programID string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	payload := map[string]interface{}{"reference_key": programID}
	if err := c.doJSON(ctx, http.MethodPost, "/deduplication_sets", payload, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("生物特征引擎未返回查重集ID")
	}
	return resp.ID, nil
}

// UploadImages 批量上传人像
func (c *HTTPBiometricClient) UploadImages(ctx context.Context, setID string, images []FaceImage) error {
	payload := map[string]interface{}{"images": images}
	path := fmt.Sprintf("/deduplication_sets/%s/images/bulk", setID)
	return c.doJSON(ctx, http.MethodPost, path, payload, nil)
}

// TriggerProcessing 触发比对处理
func (c *HTTPBiometricClient) TriggerProcessing(ctx context.Context, setID string) error {
	path := fmt.Sprintf("/deduplication_sets/%s/process", setID)
	return c.doJSON(ctx, http.MethodPost, path, map[string]interface{}{}, nil)
}

// GetSimilarityPairs 拉取相似对
func (c *HTTPBiometricClient) GetSimilarityPairs(ctx context.Context, setID string, threshold float64) ([]SimilarityPair, error) {
	var resp struct {
		Pairs []SimilarityPair `json:"pairs"`
	}
	path := fmt.Sprintf("/deduplication_sets/%s/similarity_pairs?threshold=%g", setID, threshold)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Pairs, nil
}

// doJSON 统一的JSON请求封装
func (c *HTTPBiometricClient) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
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
		return fmt.Errorf("生物特征引擎返回异常状态: %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("解析响应失败: %w", err)
		}
	}
	return nil
}
