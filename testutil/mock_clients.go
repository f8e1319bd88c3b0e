/*
 * @module testutil/mock_clients
 * @description 外部服务客户端的测试替身：搜索索引、生物特征引擎、制裁名单源
 * @architecture 测试基础设施 - testify/mock 实现客户端接口
 * @documentReference ai_docs/test_plan.md
 * @rules 查重与导入测试注入这些替身，避免真实外部调用
 * @dependencies github.com/stretchr/testify/mock
 * @refs client
 */

package testutil

import (
	"context"

	"beneficiary-service/client"

	"github.com/stretchr/testify/mock"
)

// MockSearchIndexClient 搜索索引客户端替身
type MockSearchIndexClient struct {
	mock.Mock
}

// SearchSimilar 返回预设的候选列表
func (m *MockSearchIndexClient) SearchSimilar(ctx context.Context, query *client.BiographicQuery) ([]client.SearchCandidate, error) {
	args := m.Called(ctx, query)
	if candidates := args.Get(0); candidates != nil {
		return candidates.([]client.SearchCandidate), args.Error(1)
	}
	return nil, args.Error(1)
}

// IndexIndividuals 记录写入索引的文档
func (m *MockSearchIndexClient) IndexIndividuals(ctx context.Context, docs []client.IndividualDocument) error {
	args := m.Called(ctx, docs)
	return args.Error(0)
}

// MockBiometricClient 生物特征引擎客户端替身
type MockBiometricClient struct {
	mock.Mock
}

// CreateDeduplicationSet 返回预设的查重集ID
func (m *MockBiometricClient) CreateDeduplicationSet(ctx context.Context, programID string) (string, error) {
	args := m.Called(ctx, programID)
	return args.String(0), args.Error(1)
}

// UploadImages 记录上传的人像
func (m *MockBiometricClient) UploadImages(ctx context.Context, setID string, images []client.FaceImage) error {
	args := m.Called(ctx, setID, images)
	return args.Error(0)
}

// TriggerProcessing 记录触发比对
func (m *MockBiometricClient) TriggerProcessing(ctx context.Context, setID string) error {
	args := m.Called(ctx, setID)
	return args.Error(0)
}

// GetSimilarityPairs 返回预设的相似对
func (m *MockBiometricClient) GetSimilarityPairs(ctx context.Context, setID string, threshold float64) ([]client.SimilarityPair, error) {
	args := m.Called(ctx, setID, threshold)
	if pairs := args.Get(0); pairs != nil {
		return pairs.([]client.SimilarityPair), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockSanctionSourceClient 制裁名单来源客户端替身
type MockSanctionSourceClient struct {
	mock.Mock
}

// FetchEntries 返回预设的名单条目
func (m *MockSanctionSourceClient) FetchEntries(ctx context.Context) ([]client.SanctionEntry, error) {
	args := m.Called(ctx)
	if entries := args.Get(0); entries != nil {
		return entries.([]client.SanctionEntry), args.Error(1)
	}
	return nil, args.Error(1)
}
