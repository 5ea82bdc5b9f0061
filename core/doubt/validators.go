package doubt

import (
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/doubtbuddy/core"
)

var (
	topicTag  = "topic"
	topicText = "topic must be one of: " + topicList()
)

// InitValidators registers the question validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(topicTag, topicValidation)
	core.RegisterCustomTranslation(validate, translator, topicTag, topicText)
}

func topicList() string {
	names := make([]string, 0, len(Topics))
	for _, t := range Topics {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

func topicValidation(fl validator.FieldLevel) bool {
	if topic, ok := fl.Field().Interface().(Topic); ok {
		return topic.IsValid()
	}
	return false
}
