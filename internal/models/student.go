package models

import "time"

// Student 学生基础信息表
type Student struct {
	StudentID string    `gorm:"primaryKey;size:64" json:"studentId"`
	Name      string    `gorm:"size:100" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Student) TableName() string {
	return "students"
}
