package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"gorm.io/gorm"

	"github.com/skyquote/skyquote/internal/models"
)

func openMemoryDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(Config{Driver: "sqlite"})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported database driver")
}

func TestAutoMigrateCreatesSchema(t *testing.T) {
	db := openMemoryDB(t)

	for _, table := range []string{"enquiries", "invites", "email_logs", "events", "pilot_applications", "operators", "admin_users", "magic_link_tokens"} {
		require.Truef(t, db.Migrator().HasTable(table), "expected table %s", table)
	}
}

func TestInviteUniqueConstraint(t *testing.T) {
	db := openMemoryDB(t)

	enquiry := models.Enquiry{Name: "J. Doe", Email: "j@x.com", Service: "drone-survey", Postcode: "SW1A 1AA", ConsentVersion: "v1", Status: models.EnquiryStatusOpen}
	require.NoError(t, db.Create(&enquiry).Error)

	first := models.Invite{EnquiryID: enquiry.ID, OperatorID: "op-1", OperatorName: "Aerial One", OperatorEmail: "a1@example.com", Status: models.InviteStatusQueued}
	require.NoError(t, db.Create(&first).Error)

	dup := models.Invite{EnquiryID: enquiry.ID, OperatorID: "op-1", OperatorName: "Aerial One", OperatorEmail: "a1@example.com", Status: models.InviteStatusQueued}
	err := db.Create(&dup).Error
	require.Error(t, err)
	require.True(t, strings.Contains(strings.ToLower(err.Error()), "unique"))
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	db := openMemoryDB(t)

	require.NoError(t, EnsureBootstrapAdmin(db, "admin@skyquote.example", "Ops", "Sup3rSecret!"))

	var admin models.AdminUser
	require.NoError(t, db.First(&admin).Error)
	require.Equal(t, "admin@skyquote.example", admin.Email)
	require.NotEmpty(t, admin.PasswordHash)
	require.NotEqual(t, "Sup3rSecret!", admin.PasswordHash)

	// A second call must not create another admin.
	require.NoError(t, EnsureBootstrapAdmin(db, "other@skyquote.example", "Other", ""))
	var count int64
	require.NoError(t, db.Model(&models.AdminUser{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestBuildPostgresDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "sky", Name: "skyquote", Host: "db", Port: 5433, Password: "pw"})
	require.NoError(t, err)
	require.Contains(t, dsn, "host=db")
	require.Contains(t, dsn, "port=5433")
	require.Contains(t, dsn, "dbname=skyquote")
	require.Contains(t, dsn, "sslmode=disable")

	_, err = buildPostgresDSN(Config{})
	require.Error(t, err)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "sky", Password: "pw", Name: "skyquote"})
	require.NoError(t, err)
	require.Contains(t, dsn, "sky:pw@tcp(127.0.0.1:3306)/skyquote")
	require.Contains(t, dsn, "parseTime=True")

	_, err = buildMySQLDSN(Config{})
	require.Error(t, err)
}
