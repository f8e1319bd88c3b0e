/*
 * @module service/deduplication/engine_test
 * @description 批内生平查重的单元测试：姓名归一化、指纹碰撞分级与生物识别升级
 * @architecture 单元测试 - 纯内存
 * @documentReference ai_docs/deduplication_req.md
 * @rules 完整指纹碰撞为重复，仅姓名+生日碰撞为相似；状态只升不降
 * @dependencies testing, github.com/stretchr/testify/assert
 * @refs engine.go
 */

package deduplication

import (
	"testing"
	"time"

	"beneficiary-service/client"
	"beneficiary-service/service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "折叠变音符号并小写",
			input:    "José  GARCÍA",
			expected: "jose garcia",
		},
		{
			name:     "压缩首尾与中间空白",
			input:    "  María   del  Carmen ",
			expected: "maria del carmen",
		},
		{
			name:     "已归一化的姓名不变",
			input:    "omar khan",
			expected: "omar khan",
		},
		{
			name:     "空串",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func batchIndividual(id, fullName, phone string) *models.Individual {
	return &models.Individual{
		ID:        id,
		FullName:  fullName,
		BirthDate: time.Date(1992, 3, 10, 0, 0, 0, 0, time.UTC),
		PhoneNo:   phone,
	}
}

func TestRunBatchPass_BiographicFingerprints(t *testing.T) {
	// a 与 b 完整指纹碰撞；c 仅姓名+生日碰撞；d 独一无二
	a := batchIndividual("a", "Fatima Noor", "0700-000-001")
	b := batchIndividual("b", "FATIMA  NOOR", "0700000001")
	c := batchIndividual("c", "Fatima Noor", "0700000999")
	d := batchIndividual("d", "Omar Khan", "0700000002")

	RunBatchPass([]*models.Individual{a, b, c, d}, nil, 0.85)

	assert.Equal(t, models.DedupBatchStatusDuplicate, a.DeduplicationBatchStatus)
	assert.Equal(t, models.DedupBatchStatusDuplicate, b.DeduplicationBatchStatus)
	assert.Equal(t, models.DedupBatchStatusSimilar, c.DeduplicationBatchStatus)
	assert.Equal(t, models.DedupBatchStatusUnique, d.DeduplicationBatchStatus)

	// a 的命中记录同时包含重复命中 b 与相似命中 b/c
	require.NotEmpty(t, a.DeduplicationBatchResults)
	hitIDs := map[string]bool{}
	for _, hit := range a.DeduplicationBatchResults {
		hitIDs[hit["hit_id"].(string)] = true
	}
	assert.True(t, hitIDs["b"])
	assert.True(t, hitIDs["c"])
	assert.False(t, hitIDs["d"])
}

func TestRunBatchPass_MissingPhoneNeverFullFingerprint(t *testing.T) {
	// 无电话的个人不参与完整指纹碰撞，最多判相似
	a := batchIndividual("a", "Fatima Noor", "")
	b := batchIndividual("b", "Fatima Noor", "")

	RunBatchPass([]*models.Individual{a, b}, nil, 0.85)

	assert.Equal(t, models.DedupBatchStatusSimilar, a.DeduplicationBatchStatus)
	assert.Equal(t, models.DedupBatchStatusSimilar, b.DeduplicationBatchStatus)
}

func TestRunBatchPass_BiometricPairs(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		expected string
	}{
		{
			name:     "得分达阈值判重复",
			score:    0.9,
			expected: models.DedupBatchStatusDuplicate,
		},
		{
			name:     "得分低于阈值判相似",
			score:    0.5,
			expected: models.DedupBatchStatusSimilar,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := batchIndividual("a", "Fatima Noor", "0700000001")
			b := batchIndividual("b", "Omar Khan", "0700000002")

			pairs := []client.SimilarityPair{{
				FirstIndividualID:  "a",
				SecondIndividualID: "b",
				Score:              tt.score,
			}}
			RunBatchPass([]*models.Individual{a, b}, pairs, 0.85)

			assert.Equal(t, tt.expected, a.DeduplicationBatchStatus)
			assert.Equal(t, tt.expected, b.DeduplicationBatchStatus)
		})
	}
}

func TestRunBatchPass_StatusOnlyUpgrades(t *testing.T) {
	// 指纹判定重复后，低分人脸相似对不把状态拉回相似
	a := batchIndividual("a", "Fatima Noor", "0700000001")
	b := batchIndividual("b", "Fatima Noor", "0700000001")

	pairs := []client.SimilarityPair{{
		FirstIndividualID:  "a",
		SecondIndividualID: "b",
		Score:              0.3,
	}}
	RunBatchPass([]*models.Individual{a, b}, pairs, 0.85)

	assert.Equal(t, models.DedupBatchStatusDuplicate, a.DeduplicationBatchStatus)
	assert.Equal(t, models.DedupBatchStatusDuplicate, b.DeduplicationBatchStatus)
}

func TestRunBatchPass_UnknownPairMembersIgnored(t *testing.T) {
	a := batchIndividual("a", "Fatima Noor", "0700000001")

	pairs := []client.SimilarityPair{{
		FirstIndividualID:  "a",
		SecondIndividualID: "ghost",
		Score:              0.99,
	}}
	RunBatchPass([]*models.Individual{a}, pairs, 0.85)

	assert.Equal(t, models.DedupBatchStatusUnique, a.DeduplicationBatchStatus)
	assert.Empty(t, a.DeduplicationBatchResults)
}
