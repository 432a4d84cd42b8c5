package model

import (
	"errors"
	"strings"
	"time"
)

// GameStat is one finished play session of a player.
type GameStat struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	PlayerID   string    `json:"player_id" gorm:"size:64;index;not null"`
	Score      int       `json:"score"`
	Level      int       `json:"level"`
	TimePlayed float64   `json:"time_played"` // seconds
	CreatedAt  time.Time `json:"created_at"`
}

// TableName 指定表名
func (GameStat) TableName() string {
	return "game_stats"
}

// CreateGameStatRequest 创建统计记录请求
type CreateGameStatRequest struct {
	PlayerID   string  `json:"player_id"`
	Score      int     `json:"score"`
	Level      int     `json:"level"`
	TimePlayed float64 `json:"time_played"`
}

// Validate checks the request before it reaches the database.
func (r *CreateGameStatRequest) Validate() error {
	if strings.TrimSpace(r.PlayerID) == "" {
		return errors.New("player_id is required")
	}
	if len(r.PlayerID) > 64 {
		return errors.New("player_id must be at most 64 characters")
	}
	if r.Score < 0 || r.Level < 0 || r.TimePlayed < 0 {
		return errors.New("score, level and time_played must be non-negative")
	}
	return nil
}

// ToModel builds the row to insert.
func (r *CreateGameStatRequest) ToModel() *GameStat {
	return &GameStat{
		PlayerID:   strings.TrimSpace(r.PlayerID),
		Score:      r.Score,
		Level:      r.Level,
		TimePlayed: r.TimePlayed,
	}
}
