/*
 * @module service/export/export_service
 * @description 核验名单导出：令牌签发（bcrypt散列存储）、令牌校验、计划成员快照CSV输出
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/export_req.md
 * @stateFlow 签发令牌(明文仅返回一次) -> 下载时校验前缀+散列+有效期 -> 输出CSV
 * @rules 仅构建完成(OK)的计划可导出；令牌过期或散列不匹配一律按未授权处理
 * @dependencies golang.org/x/crypto/bcrypt, encoding/csv, gorm.io/gorm
 * @refs api/controllers/export_controller.go
 */

package export

import (
	"crypto/rand"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/meta"
	"beneficiary-service/service/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	tokenPrefixLen  = 8
	tokenSecretLen  = 24
	defaultTokenTTL = 24 * time.Hour
)

// ErrUnauthorized 令牌缺失、过期或不匹配
var ErrUnauthorized = fmt.Errorf("导出令牌无效或已过期")

// ExportService 核验名单导出服务
type ExportService struct {
	db       *gorm.DB
	tokenTTL time.Duration
}

// NewExportService 创建导出服务
func NewExportService(db *gorm.DB) *ExportService {
	return &ExportService{db: db, tokenTTL: defaultTokenTTL}
}

// CreateToken 为计划签发下载令牌，返回 前缀.密文 形式的明文，明文不落库仅此一次返回
func (s *ExportService) CreateToken(planID, createdBy string) (string, *models.ExportToken, error) {
	var plan models.PaymentPlan
	if err := s.db.First(&plan, "id = ?", planID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil, apperrors.ErrNotFound
		}
		return "", nil, fmt.Errorf("查询支付计划失败: %w", err)
	}
	if plan.BuildStatus != meta.BuildStatusOK {
		return "", nil, apperrors.NewValidation("计划构建状态 %s 不允许导出", plan.BuildStatus)
	}

	prefix, err := randomHex(tokenPrefixLen)
	if err != nil {
		return "", nil, err
	}
	secret, err := randomHex(tokenSecretLen)
	if err != nil {
		return "", nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("生成令牌散列失败: %w", err)
	}

	token := models.ExportToken{
		PaymentPlanID: planID,
		KeyPrefix:     prefix,
		KeyHash:       string(hash),
		ExpiresAt:     time.Now().Add(s.tokenTTL),
		CreatedBy:     createdBy,
	}
	if err := s.db.Create(&token).Error; err != nil {
		return "", nil, fmt.Errorf("保存导出令牌失败: %w", err)
	}
	return prefix + "." + secret, &token, nil
}

// VerifyToken 校验明文令牌，返回对应的计划ID
func (s *ExportService) VerifyToken(plaintext string) (string, error) {
	parts := strings.SplitN(plaintext, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", ErrUnauthorized
	}

	var tokens []models.ExportToken
	if err := s.db.Where("key_prefix = ?", parts[0]).Find(&tokens).Error; err != nil {
		return "", fmt.Errorf("查询导出令牌失败: %w", err)
	}
	for i := range tokens {
		t := &tokens[i]
		if t.IsExpired() {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(t.KeyHash), []byte(parts[1])) == nil {
			return t.PaymentPlanID, nil
		}
	}
	return "", ErrUnauthorized
}

// WriteVerificationList 把计划成员快照以CSV写出
func (s *ExportService) WriteVerificationList(planID string, w io.Writer) error {
	var plan models.PaymentPlan
	if err := s.db.First(&plan, "id = ?", planID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("查询支付计划失败: %w", err)
	}
	if plan.BuildStatus != meta.BuildStatusOK {
		return apperrors.NewValidation("计划构建状态 %s 不允许导出", plan.BuildStatus)
	}

	type verificationRow struct {
		HouseholdID        string
		Size               *int
		Admin1             string
		Admin2             string
		Address            string
		VulnerabilityScore *float64
		HeadName           string
		HeadPhone          string
	}

	var rows []verificationRow
	err := s.db.Model(&models.PaymentPlanHousehold{}).
		Select(`payment_plan_households.household_id,
			households.size, households.admin1, households.admin2, households.address,
			payment_plan_households.vulnerability_score,
			heads.full_name AS head_name, heads.phone_no AS head_phone`).
		Joins("JOIN households ON households.id = payment_plan_households.household_id").
		Joins(`LEFT JOIN individual_role_in_households roles
			ON roles.household_id = households.id AND roles.role = ?`, models.RoleHead).
		Joins("LEFT JOIN individuals heads ON heads.id = roles.individual_id").
		Where("payment_plan_households.payment_plan_id = ?", planID).
		Order("payment_plan_households.created_at").
		Scan(&rows).Error
	if err != nil {
		return fmt.Errorf("查询计划成员快照失败: %w", err)
	}

	cw := csv.NewWriter(w)
	header := []string{"household_id", "head_of_household", "phone_no", "size", "admin1", "admin2", "address", "vulnerability_score"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("写CSV表头失败: %w", err)
	}
	for i := range rows {
		r := &rows[i]
		size := ""
		if r.Size != nil {
			size = strconv.Itoa(*r.Size)
		}
		score := ""
		if r.VulnerabilityScore != nil {
			score = strconv.FormatFloat(*r.VulnerabilityScore, 'f', 2, 64)
		}
		record := []string{r.HouseholdID, r.HeadName, r.HeadPhone, size, r.Admin1, r.Admin2, r.Address, score}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("写CSV行失败: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("输出CSV失败: %w", err)
	}
	return nil
}

// randomHex 生成 n 字节随机数的十六进制文本
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("生成随机令牌失败: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
