package translations

import (
	"fmt"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/lv"
	ut "github.com/go-playground/universal-translator"
)

// Message keys.
const (
	SettingsNotSetup       = "automated_tests.settings_not_setup"
	NoCriteria             = "automated_tests.no_criteria"
	DisplayOutputTitle     = "automated_tests.display_output_title"
	TestGroupModel         = "test_group.model_name"
	TestGroupNameTitle     = "test_group.name_title"
	CriterionModel         = "criterion.model_name"
	DisplayOutputKeyPrefix = "automated_tests.display_output."
)

var messages = map[string]map[string]string{
	"en": {
		SettingsNotSetup:   "Automated tests have not been set up for this assignment.",
		NoCriteria:         "Could not find {0} criterion \"{1}\"; the test group was saved without a criterion.",
		DisplayOutputTitle: "Display test output to",
		TestGroupModel:     "Test Group",
		TestGroupNameTitle: "Test Group name",
		CriterionModel:     "Criterion",
		DisplayOutputKeyPrefix + "instructors_only":              "Instructors only",
		DisplayOutputKeyPrefix + "instructors_and_student_tests": "Instructors and students (student-run tests only)",
		DisplayOutputKeyPrefix + "instructors_and_students":      "Instructors and students",
		"required": "{0} is a required field",
	},
	"lv": {
		SettingsNotSetup:   "Automātiskie testi šim uzdevumam nav iestatīti.",
		NoCriteria:         "Neizdevās atrast {0} kritēriju \"{1}\"; testu grupa saglabāta bez kritērija.",
		DisplayOutputTitle: "Rādīt testu izvadi",
		TestGroupModel:     "Testu grupa",
		TestGroupNameTitle: "Testu grupas nosaukums",
		CriterionModel:     "Kritērijs",
		DisplayOutputKeyPrefix + "instructors_only":              "Tikai pasniedzējiem",
		DisplayOutputKeyPrefix + "instructors_and_student_tests": "Pasniedzējiem un studentiem (tikai studentu palaistie testi)",
		DisplayOutputKeyPrefix + "instructors_and_students":      "Pasniedzējiem un studentiem",
		"required": "{0} ir obligāts lauks!",
	},
}

// Translator is the localized message sink.
type Translator struct {
	ut.Translator
}

// New returns a translator for locale with every message registered.
// Unknown locales fall back to English.
func New(locale string) (*Translator, error) {
	english := en.New()
	uni := ut.New(english, english, lv.New())
	trans, found := uni.GetTranslator(locale)
	if !found {
		locale = "en"
	}
	for key, text := range messages[locale] {
		if err := trans.Add(key, text, true); err != nil {
			return nil, fmt.Errorf("failed to add translation %q: %w", key, err)
		}
	}
	return &Translator{Translator: trans}, nil
}

// Msg translates key. A missing key yields the key itself so a typo never
// hides the message entirely.
func (t *Translator) Msg(key string, params ...string) string {
	s, err := t.T(key, params...)
	if err != nil {
		return key
	}
	return s
}
