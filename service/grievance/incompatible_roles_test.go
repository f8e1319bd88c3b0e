/*
 * @module service/grievance/incompatible_roles_test
 * @description 不相容角色对服务的单元测试：无序对唯一、持有人阻断与自反拒绝
 * @architecture 单元测试 - sqlite 内存库
 * @documentReference ai_docs/grievance_req.md
 * @rules 重复与阻断的报错文案是对外契约，逐字断言
 * @dependencies testing, github.com/stretchr/testify/assert
 * @refs incompatible_roles.go
 */

package grievance

import (
	"testing"

	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/models"
	"beneficiary-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRolesFixture(t *testing.T) (*testutil.TestDB, *IncompatibleRolesService) {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	return tdb, NewIncompatibleRolesService(tdb.DB)
}

func createRole(t *testing.T, tdb *testutil.TestDB, name string) *models.Role {
	role := &models.Role{Name: name}
	require.NoError(t, tdb.DB.Create(role).Error)
	return role
}

func grantRole(t *testing.T, tdb *testutil.TestDB, email, roleID, businessArea string) {
	require.NoError(t, tdb.DB.Create(&models.UserRole{
		UserEmail:    email,
		RoleID:       roleID,
		BusinessArea: businessArea,
	}).Error)
}

func TestIncompatibleRoles_Create(t *testing.T) {
	tdb, svc := newRolesFixture(t)

	approver := createRole(t, tdb, "approver")
	releaser := createRole(t, tdb, "releaser")

	require.NoError(t, svc.Create(&models.IncompatibleRoles{
		BusinessArea: "testarea",
		RoleOneID:    approver.ID,
		RoleTwoID:    releaser.ID,
	}))

	pairs, err := svc.List("testarea")
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, approver.ID, pairs[0].RoleOneID)
	assert.Equal(t, releaser.ID, pairs[0].RoleTwoID)
}

func TestIncompatibleRoles_RejectsSelfPair(t *testing.T) {
	tdb, svc := newRolesFixture(t)

	role := createRole(t, tdb, "approver")
	err := svc.Create(&models.IncompatibleRoles{
		BusinessArea: "testarea",
		RoleOneID:    role.ID,
		RoleTwoID:    role.ID,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestIncompatibleRoles_ReversedPairIsDuplicate(t *testing.T) {
	tdb, svc := newRolesFixture(t)

	approver := createRole(t, tdb, "approver")
	releaser := createRole(t, tdb, "releaser")

	require.NoError(t, svc.Create(&models.IncompatibleRoles{
		BusinessArea: "testarea",
		RoleOneID:    approver.ID,
		RoleTwoID:    releaser.ID,
	}))

	// (R2,R1) 与 (R1,R2) 视为同一对
	err := svc.Create(&models.IncompatibleRoles{
		BusinessArea: "testarea",
		RoleOneID:    releaser.ID,
		RoleTwoID:    approver.ID,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "This combination of roles already exists as incompatible pair.")
}

func TestIncompatibleRoles_SamePairInOtherBusinessAreaAllowed(t *testing.T) {
	tdb, svc := newRolesFixture(t)

	approver := createRole(t, tdb, "approver")
	releaser := createRole(t, tdb, "releaser")

	require.NoError(t, svc.Create(&models.IncompatibleRoles{
		BusinessArea: "testarea",
		RoleOneID:    approver.ID,
		RoleTwoID:    releaser.ID,
	}))
	require.NoError(t, svc.Create(&models.IncompatibleRoles{
		BusinessArea: "otherarea",
		RoleOneID:    approver.ID,
		RoleTwoID:    releaser.ID,
	}))
}

func TestIncompatibleRoles_BlockedByUsersHoldingBoth(t *testing.T) {
	tdb, svc := newRolesFixture(t)

	approver := createRole(t, tdb, "approver")
	releaser := createRole(t, tdb, "releaser")

	// 两个用户在本业务区域同时持有两个角色，第三人只持有一个
	grantRole(t, tdb, "b@example.org", approver.ID, "testarea")
	grantRole(t, tdb, "b@example.org", releaser.ID, "testarea")
	grantRole(t, tdb, "a@example.org", approver.ID, "testarea")
	grantRole(t, tdb, "a@example.org", releaser.ID, "testarea")
	grantRole(t, tdb, "c@example.org", approver.ID, "testarea")

	err := svc.Create(&models.IncompatibleRoles{
		BusinessArea: "testarea",
		RoleOneID:    approver.ID,
		RoleTwoID:    releaser.ID,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	// 邮箱排序保证报错信息稳定
	assert.Contains(t, err.Error(),
		"Cannot mark these roles as incompatible: users a@example.org, b@example.org currently hold both roles in this business area.")
}

func TestIncompatibleRoles_HoldersInOtherBusinessAreaDoNotBlock(t *testing.T) {
	tdb, svc := newRolesFixture(t)

	approver := createRole(t, tdb, "approver")
	releaser := createRole(t, tdb, "releaser")

	grantRole(t, tdb, "a@example.org", approver.ID, "otherarea")
	grantRole(t, tdb, "a@example.org", releaser.ID, "otherarea")

	require.NoError(t, svc.Create(&models.IncompatibleRoles{
		BusinessArea: "testarea",
		RoleOneID:    approver.ID,
		RoleTwoID:    releaser.ID,
	}))
}
