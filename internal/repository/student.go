package repository

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StudentRepository 学生信息仓储
type StudentRepository interface {
	BaseRepository
	Upsert(ctx context.Context, studentID, name string) error
	FindByID(ctx context.Context, studentID string) (*models.Student, error)
}

type studentRepo struct {
	*BaseRepo
}

// NewStudentRepository 创建学生仓储
func NewStudentRepository(db *gorm.DB) StudentRepository {
	return &studentRepo{BaseRepo: NewBaseRepo(db)}
}

// Upsert 不存在时创建，名字非空时更新名字
func (r *studentRepo) Upsert(ctx context.Context, studentID, name string) error {
	return upsertStudent(r.db.WithContext(ctx), studentID, name)
}

func upsertStudent(tx *gorm.DB, studentID, name string) error {
	now := time.Now()
	student := &models.Student{StudentID: studentID, Name: name, CreatedAt: now, UpdatedAt: now}

	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "student_id"}},
		DoNothing: true,
	}
	if name != "" {
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "student_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
		}
	}

	if err := tx.Clauses(onConflict).Create(student).Error; err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseInsert, "保存学生信息失败")
	}
	return nil
}

// FindByID 按学号查找
func (r *studentRepo) FindByID(ctx context.Context, studentID string) (*models.Student, error) {
	var student models.Student
	err := r.db.WithContext(ctx).Where("student_id = ?", studentID).First(&student).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrNotFound, "学号: "+studentID)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return &student, nil
}
