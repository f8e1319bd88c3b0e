/*
 * @module service/targeting/eligibility
 * @description 资格评分脚本执行器：解释执行用户自定义的脆弱性评分脚本，按最低得分过滤构建人口
 * @architecture 分层架构 - 业务服务层，脚本经解释器沙箱执行并按散列缓存
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow 脚本编译(带缓存) -> 逐户求分 -> 按 min_score 过滤
 * @dependencies github.com/traefik/yaegi, service/models
 * @refs service/models/eligibility_rule.go, service/payment_plan/builder.go
 */

package targeting

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/models"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// ScoreFunc 评分函数签名：输入住户字段集合，返回脆弱性得分
type ScoreFunc func(map[string]interface{}) float64

// compiledRule 编译缓存项
type compiledRule struct {
	fn       ScoreFunc
	compiled time.Time
	hash     string
}

// EligibilityScorer 资格评分脚本执行器
type EligibilityScorer struct {
	mu    sync.RWMutex
	cache map[string]*compiledRule
}

// NewEligibilityScorer 创建资格评分执行器
func NewEligibilityScorer() *EligibilityScorer {
	return &EligibilityScorer{cache: make(map[string]*compiledRule)}
}

// Score 对单个住户执行规则脚本求分
func (s *EligibilityScorer) Score(rule *models.EligibilityRule, household map[string]interface{}) (float64, error) {
	compiled, err := s.compiled(rule.Script)
	if err != nil {
		return 0, err
	}
	return compiled.fn(household), nil
}

// Passes 判断住户得分是否达到规则门槛；未设门槛时恒通过
func (s *EligibilityScorer) Passes(rule *models.EligibilityRule, household map[string]interface{}) (float64, bool, error) {
	score, err := s.Score(rule, household)
	if err != nil {
		return 0, false, err
	}
	if rule.MinScore == nil {
		return score, true, nil
	}
	return score, score >= *rule.MinScore, nil
}

// Validate 校验脚本语法与入口函数签名
func (s *EligibilityScorer) Validate(script string) error {
	_, err := compileScoreScript(script)
	return err
}

// compiled 取编译缓存，未命中时编译并缓存
func (s *EligibilityScorer) compiled(script string) (*compiledRule, error) {
	hash := scriptHash(script)

	s.mu.RLock()
	cached, ok := s.cache[hash]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	fn, err := compileScoreScript(script)
	if err != nil {
		return nil, err
	}

	compiled := &compiledRule{fn: fn, compiled: time.Now(), hash: hash}
	s.mu.Lock()
	s.cache[hash] = compiled
	s.mu.Unlock()
	return compiled, nil
}

// compileScoreScript 编译评分脚本，要求脚本体是 Score 函数的函数体
func compileScoreScript(script string) (ScoreFunc, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("加载标准库符号失败: %w", err)
	}

	// 包装脚本：脚本内容即 Score 函数体，household 为住户字段集合
	wrapped := fmt.Sprintf(`
package main

import (
	"math"
	"strings"
)

var _ = math.Abs
var _ = strings.TrimSpace

// Score 返回住户的脆弱性得分
func Score(household map[string]interface{}) float64 {
%s
}
`, script)

	if _, err := i.Eval(wrapped); err != nil {
		return nil, apperrors.NewValidation("资格评分脚本编译失败: %v", err)
	}

	v, err := i.Eval("Score")
	if err != nil {
		return nil, apperrors.NewValidation("资格评分脚本缺少 Score 函数: %v", err)
	}

	fn, ok := v.Interface().(func(map[string]interface{}) float64)
	if !ok {
		return nil, apperrors.NewValidation("Score 函数签名必须是 func(map[string]interface{}) float64")
	}
	return fn, nil
}

// scriptHash 脚本内容散列，作为编译缓存键
func scriptHash(script string) string {
	sum := sha1.Sum([]byte(script))
	return hex.EncodeToString(sum[:])
}

// HouseholdScriptInput 把住户模型转为脚本输入
func HouseholdScriptInput(h *models.Household) map[string]interface{} {
	input := map[string]interface{}{
		"id":                      h.ID,
		"size":                    0,
		"admin1":                  h.Admin1,
		"admin2":                  h.Admin2,
		"children_disabled_count": h.ChildrenDisabledCount,
		"adults_disabled_count":   h.AdultsDisabledCount,
	}
	if h.Size != nil {
		input["size"] = *h.Size
	}
	for k, v := range h.FlexFields {
		input["flex_"+k] = v
	}
	return input
}
