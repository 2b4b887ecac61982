package seed

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/config"
	organizationdomain "github.com/smallbiznis/dairyroute/internal/organization/domain"
	userdomain "github.com/smallbiznis/dairyroute/internal/user/domain"
	"github.com/smallbiznis/dairyroute/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureMainOrgIsIdempotent(t *testing.T) {
	db := dbtest.Open(t, &organizationdomain.Organization{}, &userdomain.User{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	cfg := config.BootstrapConfig{OrgName: "Green Valley Dairy", AdminName: "Owner", AdminPhone: "+919812345678"}

	first, err := EnsureMainOrg(context.Background(), db, node, cfg, "Asia/Kolkata")
	require.NoError(t, err)
	assert.Equal(t, "green-valley-dairy", first.Slug)
	assert.True(t, first.IsDefault)

	second, err := EnsureMainOrg(context.Background(), db, node, cfg, "Asia/Kolkata")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var admins []userdomain.User
	require.NoError(t, db.Where("org_id = ?", first.ID).Find(&admins).Error)
	require.Len(t, admins, 1)
	assert.Equal(t, userdomain.RoleAdmin, admins[0].Role)
}

func TestEnsureMainOrgWithoutAdmin(t *testing.T) {
	db := dbtest.Open(t, &organizationdomain.Organization{}, &userdomain.User{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	_, err = EnsureMainOrg(context.Background(), db, node, config.BootstrapConfig{OrgName: "Main"}, "UTC")
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&userdomain.User{}).Count(&count).Error)
	assert.Zero(t, count)

	_, err = EnsureMainOrg(context.Background(), db, node, config.BootstrapConfig{}, "UTC")
	assert.Error(t, err)
}
