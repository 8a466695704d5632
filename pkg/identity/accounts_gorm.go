package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 51170917

// AccountModel is the GORM row for Account.
type AccountModel struct {
	ID            string `gorm:"primaryKey"`
	Email         string `gorm:"uniqueIndex;not null"`
	PasswordHash  string
	DisplayName   string
	PhotoURL      string
	Provider      string `gorm:"not null"`
	GoogleSubject string `gorm:"index"`
	EmailVerified bool   `gorm:"not null;default:false"`
	Disabled      bool   `gorm:"not null;default:false"`
	// Metadata records provider details such as last sign-in.
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (AccountModel) TableName() string {
	return "identity_accounts"
}

// GormAccounts implements AccountStore using GORM + Postgres.
type GormAccounts struct {
	db *gorm.DB
}

// NewGormAccounts opens the DB and migrates the accounts table.
func NewGormAccounts(dsn string) (*GormAccounts, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&AccountModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormAccounts{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

func (s *GormAccounts) CreateAccount(ctx context.Context, a Account) error {
	model := accountToModel(a)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailExists
		}
		return err
	}
	return nil
}

func (s *GormAccounts) AccountByID(ctx context.Context, id string) (Account, bool, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *GormAccounts) AccountByEmail(ctx context.Context, email string) (Account, bool, error) {
	return s.first(ctx, "email = ?", email)
}

func (s *GormAccounts) AccountByGoogleSubject(ctx context.Context, subject string) (Account, bool, error) {
	if subject == "" {
		return Account{}, false, nil
	}
	return s.first(ctx, "google_subject = ?", subject)
}

func (s *GormAccounts) first(ctx context.Context, query string, arg any) (Account, bool, error) {
	var model AccountModel
	if err := s.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Account{}, false, nil
		}
		return Account{}, false, err
	}
	return accountFromModel(model), true, nil
}

func (s *GormAccounts) UpdatePassword(ctx context.Context, id, hash string) error {
	return s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"password_hash": hash,
			"updated_at":    time.Now().UTC(),
		}).Error
}

func (s *GormAccounts) LinkGoogle(ctx context.Context, id, subject string, emailVerified bool) error {
	updates := map[string]any{
		"google_subject": subject,
		"updated_at":     time.Now().UTC(),
	}
	if emailVerified {
		updates["email_verified"] = true
	}
	return s.db.WithContext(ctx).Model(&AccountModel{}).Where("id = ?", id).Updates(updates).Error
}

type accountMetadata struct {
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

func accountToModel(a Account) AccountModel {
	meta, _ := json.Marshal(accountMetadata{Provider: a.Provider, CreatedAt: a.CreatedAt})
	return AccountModel{
		ID:            a.ID,
		Email:         a.Email,
		PasswordHash:  a.PasswordHash,
		DisplayName:   a.DisplayName,
		PhotoURL:      a.PhotoURL,
		Provider:      a.Provider,
		GoogleSubject: a.GoogleSubject,
		EmailVerified: a.EmailVerified,
		Disabled:      a.Disabled,
		Metadata:      datatypes.JSON(meta),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func accountFromModel(m AccountModel) Account {
	return Account{
		ID:            m.ID,
		Email:         m.Email,
		PasswordHash:  m.PasswordHash,
		DisplayName:   m.DisplayName,
		PhotoURL:      m.PhotoURL,
		Provider:      m.Provider,
		GoogleSubject: m.GoogleSubject,
		EmailVerified: m.EmailVerified,
		Disabled:      m.Disabled,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
