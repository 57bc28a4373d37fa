package banter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

// Channel list membership for ChannelListEntry.List. The two modes are
// mutually exclusive per guild: adding a channel to one list removes the
// guild's entries in the other.
const (
	ChannelListBlacklist = "blacklist"
	ChannelListWhitelist = "whitelist"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// GuildSettings holds per-guild configuration, one row per guild.
type GuildSettings struct {
	ModelUnixTime

	GuildID string `gorm:"primaryKey" json:"guild_id"`

	// UseBlacklist selects which channel list is in effect. True means
	// ChannelListBlacklist entries exclude channels; false means
	// ChannelListWhitelist entries (if any exist) are the only channels
	// the bot responds in.
	UseBlacklist bool `json:"use_blacklist"`

	// Chat revival schedule
	ReviveEnabled   bool   `json:"revive_enabled"`
	ReviveChannelID string `json:"revive_channel_id"`
	ReviveRoleID    string `json:"revive_role_id"`

	// ReviveInterval is a duration string like "1h30m"
	ReviveInterval string `json:"revive_interval"`

	// ReviveNextSend is the persisted next send time (unix millis), so
	// schedules survive restarts
	ReviveNextSend int64 `json:"revive_next_send"`

	// Member-join welcome messages
	WelcomeEnabled   bool   `json:"welcome_enabled"`
	WelcomeChannelID string `json:"welcome_channel_id"`
}

// ChannelListEntry is a channel on a guild's blacklist or whitelist.
type ChannelListEntry struct {
	ModelUintID
	ModelUnixTime

	GuildID   string `gorm:"index:idx_channel_list,unique" json:"guild_id"`
	ChannelID string `gorm:"index:idx_channel_list,unique" json:"channel_id"`
	List      string `gorm:"index:idx_channel_list,unique" json:"list"`
}

// ChannelActivation marks a channel where the bot responds to every
// message, not just mentions, replies and trigger words.
type ChannelActivation struct {
	ModelUintID
	ModelUnixTime

	GuildID   string `gorm:"index:idx_channel_activation,unique" json:"guild_id"`
	ChannelID string `gorm:"index:idx_channel_activation,unique" json:"channel_id"`
}

// BlockedUser is a user the bot ignores in a guild.
type BlockedUser struct {
	ModelUintID
	ModelUnixTime

	GuildID string `gorm:"index:idx_blocked_user,unique" json:"guild_id"`
	UserID  string `gorm:"index:idx_blocked_user,unique" json:"user_id"`
}

// TriggerWord is a per-guild word that admits a message for response.
type TriggerWord struct {
	ModelUintID
	ModelUnixTime

	GuildID string `gorm:"index:idx_trigger_word,unique" json:"guild_id"`
	Word    string `gorm:"index:idx_trigger_word,unique" json:"word"`
}

// Database wraps the gorm connection with the read/write accessors the
// rest of the bot uses. Writes are serialized through a mutex when using
// SQLite, which only supports a single writer.
type Database struct {
	db     *gorm.DB
	mu     sync.Mutex
	logger *slog.Logger

	concurrentWrites bool
}

// CreateDB opens (and for SQLite, tunes) the configured database and
// auto-migrates the schema.
func CreateDB(
	ctx context.Context,
	dbType string,
	dsn string,
	gormLogger *gormStructuredLogger,
	log *slog.Logger,
) (*Database, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(loggerNameKey, "database")
	if gormLogger == nil {
		gormLogger = newGORMLogger(
			newLogHandler(DefaultDatabaseLogLevel),
			DefaultDatabaseSlowThreshold,
		)
	}

	var dialector gorm.Dialector
	switch dbType {
	case dbTypeSQLite:
		dialector = sqlite.Open(dsn)
	case dbTypePostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database type: %s", dbType)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if dbType == dbTypeSQLite {
		sqlDB, e := gdb.DB()
		if e != nil {
			return nil, fmt.Errorf("error getting sql db: %w", e)
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if e = gdb.WithContext(ctx).Exec(pragma).Error; e != nil {
				return nil, fmt.Errorf("error executing %q: %w", pragma, e)
			}
		}
	}

	if err = gdb.WithContext(ctx).AutoMigrate(
		&GuildSettings{},
		&ChannelListEntry{},
		&ChannelActivation{},
		&BlockedUser{},
		&TriggerWord{},
	); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return &Database{
		db:               gdb,
		logger:           log,
		concurrentWrites: dbType == dbTypePostgres,
	}, nil
}

func (d *Database) lock() {
	if d.concurrentWrites {
		return
	}
	d.mu.Lock()
}

func (d *Database) unlock() {
	if d.concurrentWrites {
		return
	}
	d.mu.Unlock()
}

// GetGuildSettings returns the guild's settings row, creating a default
// row if none exists yet.
func (d *Database) GetGuildSettings(
	ctx context.Context,
	guildID string,
) (GuildSettings, error) {
	var settings GuildSettings
	err := d.db.WithContext(ctx).Where(
		"guild_id = ?", guildID,
	).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = GuildSettings{GuildID: guildID, UseBlacklist: true}
		return settings, d.SaveGuildSettings(ctx, &settings)
	}
	return settings, err
}

// SaveGuildSettings upserts the guild's settings row.
func (d *Database) SaveGuildSettings(
	ctx context.Context,
	settings *GuildSettings,
) error {
	d.lock()
	defer d.unlock()
	return d.db.WithContext(ctx).Save(settings).Error
}

// UserBlocked reports whether the user is blocked in the guild.
func (d *Database) UserBlocked(
	ctx context.Context,
	guildID string,
	userID string,
) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&BlockedUser{}).Where(
		"guild_id = ? AND user_id = ?", guildID, userID,
	).Count(&count).Error
	return count > 0, err
}

// BlockUser adds the user to the guild's block list. Reports whether the
// entry was newly created.
func (d *Database) BlockUser(
	ctx context.Context,
	guildID string,
	userID string,
) (bool, error) {
	blocked, err := d.UserBlocked(ctx, guildID, userID)
	if err != nil {
		return false, err
	}
	if blocked {
		return false, nil
	}
	d.lock()
	defer d.unlock()
	err = d.db.WithContext(ctx).Create(
		&BlockedUser{GuildID: guildID, UserID: userID},
	).Error
	return err == nil, err
}

// UnblockUser removes the user from the guild's block list. Reports
// whether an entry was removed.
func (d *Database) UnblockUser(
	ctx context.Context,
	guildID string,
	userID string,
) (bool, error) {
	d.lock()
	defer d.unlock()
	tx := d.db.WithContext(ctx).Where(
		"guild_id = ? AND user_id = ?", guildID, userID,
	).Delete(&BlockedUser{})
	return tx.RowsAffected > 0, tx.Error
}

// ChannelAllowed reports whether the bot may respond in the channel,
// according to the guild's active channel list mode.
func (d *Database) ChannelAllowed(
	ctx context.Context,
	guildID string,
	channelID string,
) (bool, error) {
	settings, err := d.GetGuildSettings(ctx, guildID)
	if err != nil {
		return false, err
	}

	listed := func(list string) (bool, error) {
		var count int64
		e := d.db.WithContext(ctx).Model(&ChannelListEntry{}).Where(
			"guild_id = ? AND channel_id = ? AND list = ?",
			guildID, channelID, list,
		).Count(&count).Error
		return count > 0, e
	}

	if settings.UseBlacklist {
		blacklisted, e := listed(ChannelListBlacklist)
		if e != nil {
			return false, e
		}
		return !blacklisted, nil
	}

	var total int64
	if err = d.db.WithContext(ctx).Model(&ChannelListEntry{}).Where(
		"guild_id = ? AND list = ?", guildID, ChannelListWhitelist,
	).Count(&total).Error; err != nil {
		return false, err
	}
	if total == 0 {
		// whitelist mode with an empty list allows everything
		return true, nil
	}
	return listed(ChannelListWhitelist)
}

// SetChannelList puts the channel on the guild's blacklist or whitelist,
// switching the guild's mode to match and clearing the opposite list.
func (d *Database) SetChannelList(
	ctx context.Context,
	guildID string,
	channelID string,
	list string,
) error {
	if list != ChannelListBlacklist && list != ChannelListWhitelist {
		return fmt.Errorf("unknown channel list: %s", list)
	}
	settings, err := d.GetGuildSettings(ctx, guildID)
	if err != nil {
		return err
	}

	other := ChannelListWhitelist
	if list == ChannelListWhitelist {
		other = ChannelListBlacklist
	}

	d.lock()
	defer d.unlock()
	return d.db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			if e := tx.Where(
				"guild_id = ? AND list = ?", guildID, other,
			).Delete(&ChannelListEntry{}).Error; e != nil {
				return e
			}
			var count int64
			if e := tx.Model(&ChannelListEntry{}).Where(
				"guild_id = ? AND channel_id = ? AND list = ?",
				guildID, channelID, list,
			).Count(&count).Error; e != nil {
				return e
			}
			if count == 0 {
				if e := tx.Create(
					&ChannelListEntry{
						GuildID:   guildID,
						ChannelID: channelID,
						List:      list,
					},
				).Error; e != nil {
					return e
				}
			}
			settings.UseBlacklist = list == ChannelListBlacklist
			return tx.Save(&settings).Error
		},
	)
}

// RemoveChannelFromLists removes the channel from both lists. Reports
// whether any entry was removed.
func (d *Database) RemoveChannelFromLists(
	ctx context.Context,
	guildID string,
	channelID string,
) (bool, error) {
	d.lock()
	defer d.unlock()
	tx := d.db.WithContext(ctx).Where(
		"guild_id = ? AND channel_id = ?", guildID, channelID,
	).Delete(&ChannelListEntry{})
	return tx.RowsAffected > 0, tx.Error
}

// ClearChannelLists removes every list entry for the guild.
func (d *Database) ClearChannelLists(ctx context.Context, guildID string) error {
	d.lock()
	defer d.unlock()
	return d.db.WithContext(ctx).Where(
		"guild_id = ?", guildID,
	).Delete(&ChannelListEntry{}).Error
}

// ChannelList returns the guild's entries for the given list.
func (d *Database) ChannelList(
	ctx context.Context,
	guildID string,
	list string,
) ([]ChannelListEntry, error) {
	var entries []ChannelListEntry
	err := d.db.WithContext(ctx).Where(
		"guild_id = ? AND list = ?", guildID, list,
	).Order("channel_id").Find(&entries).Error
	return entries, err
}

// ChannelActivated reports whether the channel is activated.
func (d *Database) ChannelActivated(
	ctx context.Context,
	guildID string,
	channelID string,
) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&ChannelActivation{}).Where(
		"guild_id = ? AND channel_id = ?", guildID, channelID,
	).Count(&count).Error
	return count > 0, err
}

// ActivateChannel marks the channel activated. Reports whether the state
// changed.
func (d *Database) ActivateChannel(
	ctx context.Context,
	guildID string,
	channelID string,
) (bool, error) {
	activated, err := d.ChannelActivated(ctx, guildID, channelID)
	if err != nil {
		return false, err
	}
	if activated {
		return false, nil
	}
	d.lock()
	defer d.unlock()
	err = d.db.WithContext(ctx).Create(
		&ChannelActivation{GuildID: guildID, ChannelID: channelID},
	).Error
	return err == nil, err
}

// DeactivateChannel removes the channel's activation. Reports whether the
// state changed.
func (d *Database) DeactivateChannel(
	ctx context.Context,
	guildID string,
	channelID string,
) (bool, error) {
	d.lock()
	defer d.unlock()
	tx := d.db.WithContext(ctx).Where(
		"guild_id = ? AND channel_id = ?", guildID, channelID,
	).Delete(&ChannelActivation{})
	return tx.RowsAffected > 0, tx.Error
}

// GuildTriggerWords returns the guild's trigger words.
func (d *Database) GuildTriggerWords(
	ctx context.Context,
	guildID string,
) ([]string, error) {
	var rows []TriggerWord
	err := d.db.WithContext(ctx).Where(
		"guild_id = ?", guildID,
	).Order("word").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	words := make([]string, 0, len(rows))
	for _, row := range rows {
		words = append(words, row.Word)
	}
	return words, nil
}

// AddTriggerWord adds a trigger word for the guild. Reports whether it
// was newly added.
func (d *Database) AddTriggerWord(
	ctx context.Context,
	guildID string,
	word string,
) (bool, error) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return false, errors.New("trigger word cannot be empty")
	}
	var count int64
	if err := d.db.WithContext(ctx).Model(&TriggerWord{}).Where(
		"guild_id = ? AND word = ?", guildID, word,
	).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	d.lock()
	defer d.unlock()
	err := d.db.WithContext(ctx).Create(
		&TriggerWord{GuildID: guildID, Word: word},
	).Error
	return err == nil, err
}

// RemoveTriggerWord removes a trigger word. Reports whether an entry was
// removed.
func (d *Database) RemoveTriggerWord(
	ctx context.Context,
	guildID string,
	word string,
) (bool, error) {
	word = strings.ToLower(strings.TrimSpace(word))
	d.lock()
	defer d.unlock()
	tx := d.db.WithContext(ctx).Where(
		"guild_id = ? AND word = ?", guildID, word,
	).Delete(&TriggerWord{})
	return tx.RowsAffected > 0, tx.Error
}

// ReviveSchedules returns the settings rows with revive chat enabled.
func (d *Database) ReviveSchedules(ctx context.Context) ([]GuildSettings, error) {
	var rows []GuildSettings
	err := d.db.WithContext(ctx).Where(
		"revive_enabled = ?", true,
	).Find(&rows).Error
	return rows, err
}
