package repository

import (
	"errors"
	"time"

	"cloudy/internal/db"
	"cloudy/internal/model"
)

var ErrNoDB = errors.New("history database is not open")

type HistoryRepository struct{}

func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{}
}

func (r *HistoryRepository) Save(outcome model.TransferOutcome) error {
	if db.DB == nil {
		return ErrNoDB
	}

	status := model.StatusSuccess
	errMsg := ""
	if outcome.Err != nil {
		status = model.StatusFailed
		errMsg = outcome.Err.Error()
	}

	syncedAt := outcome.StartedAt.Add(outcome.Duration)
	if outcome.StartedAt.IsZero() {
		syncedAt = time.Now()
	}

	history := model.History{
		TransferID:  outcome.ID,
		Status:      status,
		EventKind:   outcome.Kind,
		RelPath:     outcome.RelPath,
		Destination: outcome.Destination,
		CommandLine: outcome.CommandLine,
		ExitCode:    outcome.ExitCode,
		ErrMsg:      errMsg,
		DurationMs:  outcome.Duration.Milliseconds(),
		SyncedAt:    syncedAt,
	}

	return db.DB.Create(&history).Error
}

type Stats struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
}

func (r *HistoryRepository) GetStats() (Stats, error) {
	var stats Stats
	if db.DB == nil {
		return stats, ErrNoDB
	}

	if err := db.DB.Model(&model.History{}).Count(&stats.Total).Error; err != nil {
		return stats, err
	}

	if err := db.DB.Model(&model.History{}).
		Where("status = ?", model.StatusSuccess).
		Count(&stats.Success).Error; err != nil {
		return stats, err
	}

	stats.Failed = stats.Total - stats.Success
	return stats, nil
}

func (r *HistoryRepository) GetRecent(limit int) ([]model.History, error) {
	if db.DB == nil {
		return nil, ErrNoDB
	}

	var histories []model.History
	result := db.DB.
		Order("synced_at desc").
		Order("id desc").
		Limit(limit).
		Find(&histories)

	return histories, result.Error
}

func (r *HistoryRepository) GetFailed() ([]model.History, error) {
	if db.DB == nil {
		return nil, ErrNoDB
	}

	var histories []model.History
	result := db.DB.
		Where("status = ?", model.StatusFailed).
		Order("synced_at desc").
		Find(&histories)

	return histories, result.Error
}
