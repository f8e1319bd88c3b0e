/*
 * @module service/deduplication/engine
 * @description 批内生平查重：归一化姓名+出生日期+电话构造指纹，指纹碰撞判定批内重复/相似
 * @architecture 分层架构 - 业务服务层，纯内存比对
 * @documentReference ai_docs/deduplication_req.md
 * @stateFlow 指纹构造 -> 分组 -> 组内成员标记 DUPLICATE_IN_BATCH / SIMILAR_IN_BATCH
 * @rules 完整指纹(姓名+生日+电话)碰撞为重复；仅姓名+生日碰撞为相似；生物识别相似对按得分升级
 * @dependencies golang.org/x/text, service/models
 * @refs service/deduplication/pipeline.go
 */

package deduplication

import (
	"strings"
	"unicode"

	"beneficiary-service/client"
	"beneficiary-service/service/models"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// nameNormalizer 去掉变音符号：NFD 分解后剔除组合记号再合成
var nameNormalizer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName 姓名归一化：折叠变音符号、小写、压缩空白
func NormalizeName(name string) string {
	folded, _, err := transform.String(nameNormalizer, name)
	if err != nil {
		folded = name
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// normalizePhone 电话归一化：仅保留数字
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// similarKey 相似指纹：归一化姓名 + 出生日期
func similarKey(ind *models.Individual) string {
	return NormalizeName(ind.FullName) + "|" + ind.BirthDate.Format("2006-01-02")
}

// duplicateKey 完整指纹：相似指纹 + 归一化电话；无电话时不参与完整指纹碰撞
func duplicateKey(ind *models.Individual) string {
	phone := normalizePhone(ind.PhoneNo)
	if phone == "" {
		return ""
	}
	return similarKey(ind) + "|" + phone
}

// RunBatchPass 对一批个人执行批内查重，原地写入批内状态与比对结果
// biometricPairs 为引擎返回的批内人脸相似对，得分达到 duplicateThreshold 时按重复处理
func RunBatchPass(individuals []*models.Individual, biometricPairs []client.SimilarityPair, duplicateThreshold float64) {
	byID := make(map[string]*models.Individual, len(individuals))
	dupGroups := make(map[string][]*models.Individual)
	simGroups := make(map[string][]*models.Individual)

	for _, ind := range individuals {
		byID[ind.ID] = ind
		ind.DeduplicationBatchStatus = models.DedupBatchStatusUnique
		ind.DeduplicationBatchResults = models.JSONBArray{}
		if key := duplicateKey(ind); key != "" {
			dupGroups[key] = append(dupGroups[key], ind)
		}
		simGroups[similarKey(ind)] = append(simGroups[similarKey(ind)], ind)
	}

	for _, group := range dupGroups {
		if len(group) < 2 {
			continue
		}
		markGroup(group, models.DedupBatchStatusDuplicate, "duplicate", 1.0)
	}

	for _, group := range simGroups {
		if len(group) < 2 {
			continue
		}
		// 已标记重复的成员不降级为相似
		markGroup(group, models.DedupBatchStatusSimilar, "similar", 0.9)
	}

	for _, pair := range biometricPairs {
		first, okFirst := byID[pair.FirstIndividualID]
		second, okSecond := byID[pair.SecondIndividualID]
		if !okFirst || !okSecond {
			continue
		}
		status := models.DedupBatchStatusSimilar
		proximity := "similar"
		if pair.Score >= duplicateThreshold {
			status = models.DedupBatchStatusDuplicate
			proximity = "duplicate"
		}
		markPair(first, second, status, proximity, pair.Score)
		markPair(second, first, status, proximity, pair.Score)
	}
}

// markGroup 组内每个成员记下其余成员作为命中
func markGroup(group []*models.Individual, status, proximity string, score float64) {
	for _, ind := range group {
		for _, other := range group {
			if other.ID == ind.ID {
				continue
			}
			markPair(ind, other, status, proximity, score)
		}
	}
}

// markPair 给 ind 记一条对 other 的命中；状态只升不降
func markPair(ind, other *models.Individual, status, proximity string, score float64) {
	if batchStatusRank(status) > batchStatusRank(ind.DeduplicationBatchStatus) {
		ind.DeduplicationBatchStatus = status
	}
	ind.DeduplicationBatchResults = append(ind.DeduplicationBatchResults, map[string]interface{}{
		"hit_id":    other.ID,
		"full_name": other.FullName,
		"score":     score,
		"proximity": proximity,
	})
}

// batchStatusRank 批内状态严重程度排序
func batchStatusRank(status string) int {
	switch status {
	case models.DedupBatchStatusDuplicate:
		return 2
	case models.DedupBatchStatusSimilar:
		return 1
	default:
		return 0
	}
}
