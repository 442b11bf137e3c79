package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/consoleprov/consoleprov/internal/model"
)

// ErrRunNotFound 会话记录不存在
var ErrRunNotFound = errors.New("provision run not found")

// RunStore 会话记录读写
type RunStore struct {
	db *gorm.DB
}

// NewRunStore 创建会话记录存储
func NewRunStore(d *gorm.DB) *RunStore {
	return &RunStore{db: d}
}

// RunFilter 列表过滤条件
type RunFilter struct {
	BatchID string
	NodeID  string
	Status  string
	Kind    string
	Limit   int
	Offset  int
}

// Create 新建记录
func (s *RunStore) Create(run *model.ProvisionRun) error {
	return WithRetry(s.db, func(d *gorm.DB) error {
		return d.Create(run).Error
	}, 5, 0)
}

// Save 更新记录全部字段
func (s *RunStore) Save(run *model.ProvisionRun) error {
	return WithRetry(s.db, func(d *gorm.DB) error {
		return d.Save(run).Error
	}, 5, 0)
}

// SaveTranscript 覆盖写入会话记录条目
func (s *RunStore) SaveTranscript(runID string, entries []model.TranscriptEntry) error {
	return WithRetry(s.db, func(d *gorm.DB) error {
		return d.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("run_id = ?", runID).Delete(&model.TranscriptEntry{}).Error; err != nil {
				return err
			}
			if len(entries) == 0 {
				return nil
			}
			for i := range entries {
				entries[i].RunID = runID
				entries[i].Seq = i
			}
			return tx.CreateInBatches(entries, 200).Error
		})
	}, 5, 0)
}

// Get 按 ID 查询
func (s *RunStore) Get(id string) (*model.ProvisionRun, error) {
	var run model.ProvisionRun
	err := s.db.First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List 按创建时间倒序列出
func (s *RunStore) List(f RunFilter) ([]model.ProvisionRun, int64, error) {
	q := s.db.Model(&model.ProvisionRun{})
	if f.BatchID != "" {
		q = q.Where("batch_id = ?", f.BatchID)
	}
	if f.NodeID != "" {
		q = q.Where("node_id = ?", f.NodeID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var runs []model.ProvisionRun
	err := q.Order("created_at DESC").Limit(limit).Offset(f.Offset).Find(&runs).Error
	return runs, total, err
}

// Transcript 按顺序返回会话记录条目
func (s *RunStore) Transcript(runID string) ([]model.TranscriptEntry, error) {
	var entries []model.TranscriptEntry
	err := s.db.Where("run_id = ?", runID).Order("seq ASC").Find(&entries).Error
	return entries, err
}
