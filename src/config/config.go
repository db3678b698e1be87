package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stake-plus/nombot/src/data"
	"gorm.io/gorm"
)

type Config struct {
	Token             string
	GuildID           string
	ModRoleID         string
	VoterRoleID       string
	AnnounceChannelID string
	CategoryID        string
	ArchiveCategoryID string

	MySQLDSN string
	RedisURL string

	AnchorWeekday time.Weekday
	AnchorHour    int
	Timezone      *time.Location

	DiscussionMinutes int
	VoteMinutes       int
	CleanupMinutes    int

	QuorumFraction float64
	PassFraction   float64

	APIListen       string
	JWTSecret       string
	OperatorSecret  string
	VoterHashSecret string
}

func Load(db *gorm.DB) Config {
	// Load settings from database
	if err := data.LoadSettings(db); err != nil {
		log.Printf("Failed to load settings: %v", err)
	}

	cfg := Config{
		Token:             setting("discord_token", "DISCORD_TOKEN", ""),
		GuildID:           setting("guild_id", "GUILD_ID", ""),
		ModRoleID:         setting("mod_role_id", "MOD_ROLE_ID", ""),
		VoterRoleID:       setting("voter_role_id", "VOTER_ROLE_ID", ""),
		AnnounceChannelID: setting("announce_channel_id", "ANNOUNCE_CHANNEL_ID", ""),
		CategoryID:        setting("nomination_category_id", "NOMINATION_CATEGORY_ID", ""),
		ArchiveCategoryID: setting("archive_category_id", "ARCHIVE_CATEGORY_ID", ""),
		MySQLDSN:          getenv("MYSQL_DSN", "nombot:nombot@tcp(127.0.0.1:3306)/nombot"),
		RedisURL:          getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		AnchorHour:        settingInt("anchor_hour", 9),
		DiscussionMinutes: settingInt("discussion_minutes", 3*24*60),
		VoteMinutes:       settingInt("vote_minutes", 2*24*60),
		CleanupMinutes:    settingInt("cleanup_minutes", 24*60),
		QuorumFraction:    settingFloat("quorum_fraction", 0.40),
		PassFraction:      settingFloat("pass_fraction", 0.80),
		APIListen:         setting("api_listen", "API_LISTEN", ":8090"),
		JWTSecret:         setting("jwt_secret", "JWT_SECRET", ""),
		OperatorSecret:    setting("operator_secret", "OPERATOR_SECRET", ""),
		VoterHashSecret:   setting("voter_hash_secret", "VOTER_HASH_SECRET", ""),
	}

	cfg.AnchorWeekday = parseWeekday(setting("anchor_weekday", "ANCHOR_WEEKDAY", "monday"))

	tzName := setting("anchor_timezone", "ANCHOR_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		log.Printf("Bad anchor timezone %q, falling back to UTC: %v", tzName, err)
		loc = time.UTC
	}
	cfg.Timezone = loc

	return cfg
}

// setting reads a value from the settings table with an env fallback.
func setting(name, envKey, def string) string {
	if v := data.GetSetting(name); v != "" {
		return v
	}
	return getenv(envKey, def)
}

func settingInt(name string, def int) int {
	if v := data.GetSetting(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if v := os.Getenv(strings.ToUpper(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func settingFloat(name string, def float64) float64 {
	if v := data.GetSetting(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	if v := os.Getenv(strings.ToUpper(name)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func parseWeekday(name string) time.Weekday {
	switch strings.ToLower(name) {
	case "sunday":
		return time.Sunday
	case "monday":
		return time.Monday
	case "tuesday":
		return time.Tuesday
	case "wednesday":
		return time.Wednesday
	case "thursday":
		return time.Thursday
	case "friday":
		return time.Friday
	case "saturday":
		return time.Saturday
	}
	log.Printf("Bad anchor weekday %q, falling back to Monday", name)
	return time.Monday
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
