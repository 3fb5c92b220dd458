package checkout

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	postalRe = regexp.MustCompile(`^\d{3}-?\d{4}$`)
	telRe    = regexp.MustCompile(`^\d{10,11}$`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// 错误里用 json 字段名，前端直接对应表单
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("postal_jp", func(fl validator.FieldLevel) bool {
		return postalRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("tel_jp", func(fl validator.FieldLevel) bool {
		return telRe.MatchString(strings.ReplaceAll(fl.Field().String(), "-", ""))
	})
	return v
}

var fieldMessages = map[string]string{
	"required":  "必填",
	"max":       "内容过长",
	"eq":        "每次只能购买 1 件",
	"gte":       "不能为负数",
	"gt":        "必须大于 0",
	"postal_jp": "邮编格式应为 123-4567",
	"tel_jp":    "电话号码应为 10-11 位数字",
}

// validateStruct 把 validator 的错误转换成 ValidationError。
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		msg, ok := fieldMessages[fe.Tag()]
		if !ok {
			msg = "格式错误"
		}
		out.Fields[fe.Field()] = msg
	}
	return out
}
