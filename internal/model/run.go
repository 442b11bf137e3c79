package model

import (
	"time"
)

// ProvisionRun 一次控制台会话（安装或配置）
type ProvisionRun struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	BatchID  string `json:"batch_id,omitempty" gorm:"type:varchar(64);index"`
	NodeID   string `json:"node_id,omitempty" gorm:"type:varchar(64);index"`
	NodeName string `json:"node_name,omitempty" gorm:"type:varchar(128)"`
	Kind     string `json:"kind" gorm:"type:varchar(16);not null"`
	Platform string `json:"platform" gorm:"type:varchar(32);not null"`
	Script   string `json:"script" gorm:"type:varchar(64)"`
	Host     string `json:"host" gorm:"type:varchar(64);not null"`
	Port     int    `json:"port" gorm:"not null"`
	Protocol string `json:"protocol" gorm:"type:varchar(16);not null;default:'telnet'"`
	Status   string `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`
	// Outcome 为会话结果类别，Step 为失败步骤序号（-1 表示与步骤无关）
	Outcome       string    `json:"outcome" gorm:"type:varchar(32)"`
	Step          int       `json:"step" gorm:"default:-1"`
	StepName      string    `json:"step_name,omitempty" gorm:"type:varchar(64)"`
	ErrorMsg      string    `json:"error_msg,omitempty" gorm:"type:text"`
	Warnings      string    `json:"warnings,omitempty" gorm:"type:text"` // JSON 数组
	LocalDigest   string    `json:"local_digest,omitempty" gorm:"type:varchar(64)"`
	ArchiveURI    string    `json:"archive_uri,omitempty" gorm:"type:varchar(512)"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Duration      int64     `json:"duration"` // 执行时长，毫秒
	TranscriptLen int       `json:"transcript_len"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (ProvisionRun) TableName() string {
	return "provision_runs"
}

// RunStatus 会话状态枚举
const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
	RunStatusSkipped = "skipped"
)

// RunKind 会话类型枚举
const (
	RunKindInstall   = "install"
	RunKindConfigure = "configure"
)

// TranscriptEntry 会话记录条目
type TranscriptEntry struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID     string    `json:"run_id" gorm:"type:varchar(64);not null;index:idx_transcript_run_seq,priority:1"`
	Seq       int       `json:"seq" gorm:"not null;index:idx_transcript_run_seq,priority:2"`
	Step      int       `json:"step"`
	Direction string    `json:"direction" gorm:"type:varchar(16);not null"`
	Data      string    `json:"data" gorm:"type:text"`
	Time      time.Time `json:"time"`
}

// TableName 表名
func (TranscriptEntry) TableName() string {
	return "transcript_entries"
}
