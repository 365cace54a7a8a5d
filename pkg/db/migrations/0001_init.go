package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Pairing struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	InviterID  uuid.UUID  `gorm:"type:uuid;not null;index"`
	InviteeID  uuid.UUID  `gorm:"type:uuid;not null;index"`
	Status     string     `gorm:"type:text;not null;default:'pending'"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	AcceptedAt *time.Time `gorm:"type:timestamptz"`
}

type Session struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	PairingID uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_sessions_slot,priority:1"`
	Kind      string            `gorm:"type:text;not null;uniqueIndex:idx_sessions_slot,priority:2"`
	StarterID uuid.UUID         `gorm:"type:uuid;not null"`
	State     datatypes.JSONMap `gorm:"type:jsonb"`
	Version   int64             `gorm:"type:bigint;not null;default:1"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Pairing   Pairing           `gorm:"foreignKey:PairingID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Pairing{},
		&Session{},
	); err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Migrator().CreateConstraint(&Session{}, "Pairing"); err != nil {
		return err
	}

	// At most one accepted pairing per unordered user pair.
	_, err = tx.ExecContext(ctx, `
        CREATE UNIQUE INDEX IF NOT EXISTS idx_pairings_accepted_pair
        ON pairings (LEAST(inviter_id, invitee_id), GREATEST(inviter_id, invitee_id))
        WHERE status = 'accepted';
    `)
	return err
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Session{},
		&Pairing{},
	)
}
