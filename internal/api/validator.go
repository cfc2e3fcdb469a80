package api

import (
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	apperrors "github.com/wfunc/probability-game/internal/errors"
)

var (
	studentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,64}$`)
	registerOnce     sync.Once
	registerErr      error
)

// registerValidators 向 gin 的校验引擎注册自定义规则，只执行一次
func registerValidators() error {
	registerOnce.Do(func() {
		registerErr = registerStudentID(binding.Validator.Engine())
	})
	return registerErr
}

// registerStudentID 注册 studentid 规则，引擎不是 validator/v10 时报错
func registerStudentID(engine interface{}) error {
	v, ok := engine.(*validator.Validate)
	if !ok {
		return apperrors.Newf(apperrors.ErrConfigValidate, "不支持的校验引擎: %T", engine)
	}
	err := v.RegisterValidation("studentid", func(fl validator.FieldLevel) bool {
		return studentIDPattern.MatchString(fl.Field().String())
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrConfigValidate, "注册 studentid 校验失败")
	}
	return nil
}

// validateStudentID 校验路径参数中的学号
func validateStudentID(id string) error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.Var(id, "required,studentid")
}
