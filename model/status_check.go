package model

import "time"

// StatusCheck 是客户端健康上报记录（GORM 模型）
type StatusCheck struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	ClientName string    `json:"clientName" gorm:"size:255"`
	Timestamp  time.Time `json:"timestamp"`
}

// TableName 指定表名
func (StatusCheck) TableName() string {
	return "status_checks"
}
