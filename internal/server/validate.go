package server

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"gitlab.com/yelinaung/receipt-tracker/internal/models"
)

var registerOnce sync.Once

// registerValidators adds the custom binding tags used by request structs.
func registerValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("category_name", validateCategoryName)
			_ = v.RegisterValidation("sheet_id", validateSheetID)
		}
	})
}

func validateCategoryName(fl validator.FieldLevel) bool {
	name := strings.TrimSpace(fl.Field().String())
	if name == "" || utf8.RuneCountInString(name) > models.MaxCategoryNameLength {
		return false
	}
	return !strings.ContainsFunc(name, unicode.IsControl)
}

// Spreadsheet ids are URL-safe base64 without padding.
func validateSheetID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		if !(r == '-' || r == '_' || r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))) {
			return false
		}
	}
	return true
}
