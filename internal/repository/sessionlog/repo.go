// Package sessionlog persists session and usage records. The session core
// treats it as an opaque usage log; a nil repo simply disables persistence.
package sessionlog

import (
	"time"

	"gorm.io/gorm"

	"github.com/xpanvictor/edmolink/pkg/Logger"
)

type SessionRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Identifier string `gorm:"index"`
	StartedAt  time.Time
	EndedAt    *time.Time
}

type UsageRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Identifier string `gorm:"index"`
	UserName   string
	Slot       int
	JoinedAt   time.Time
	LeftAt     *time.Time
}

type Repo struct {
	db  *gorm.DB
	log *Logger.Logger
}

func New(db *gorm.DB, log *Logger.Logger) *Repo {
	return &Repo{db: db, log: log.Named("sessionlog")}
}

func (r *Repo) Migrate() error {
	return r.db.AutoMigrate(&SessionRecord{}, &UsageRecord{})
}

func (r *Repo) SessionStarted(identifier string, at time.Time) {
	rec := SessionRecord{Identifier: identifier, StartedAt: at}
	if err := r.db.Create(&rec).Error; err != nil {
		r.log.Warnf("record session start for %s: %v", identifier, err)
	}
}

func (r *Repo) SessionEnded(identifier string, at time.Time) {
	err := r.db.Model(&SessionRecord{}).
		Where("identifier = ? AND ended_at IS NULL", identifier).
		Update("ended_at", at).Error
	if err != nil {
		r.log.Warnf("record session end for %s: %v", identifier, err)
	}
}

func (r *Repo) UserJoined(identifier, user string, slot int, at time.Time) {
	rec := UsageRecord{Identifier: identifier, UserName: user, Slot: slot, JoinedAt: at}
	if err := r.db.Create(&rec).Error; err != nil {
		r.log.Warnf("record join for %s/%s: %v", identifier, user, err)
	}
}

func (r *Repo) UserLeft(identifier, user string, slot int, at time.Time) {
	err := r.db.Model(&UsageRecord{}).
		Where("identifier = ? AND user_name = ? AND slot = ? AND left_at IS NULL", identifier, user, slot).
		Update("left_at", at).Error
	if err != nil {
		r.log.Warnf("record leave for %s/%s: %v", identifier, user, err)
	}
}
