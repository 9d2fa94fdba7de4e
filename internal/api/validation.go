package api

import (
	"fmt"
	"sync"

	"github.com/englivo/englivo-backend/internal/models"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterValidators gin 바인딩 검증기에 커스텀 규칙 등록
//
//	skilllevel: CEFR 레벨 (A1..C2, 대소문자 무시)
func RegisterValidators() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
			return
		}
		err = v.RegisterValidation("skilllevel", func(fl validator.FieldLevel) bool {
			return models.IsValidSkillLevel(fl.Field().String())
		})
	})
	return err
}
