package schema_test

import (
	"context"
	"testing"

	"github.com/programme-lv/autotest/course"
	"github.com/programme-lv/autotest/schema"
	"github.com/programme-lv/autotest/specdoc"
	"github.com/programme-lv/autotest/translations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const staticSchema = `{
  "type": "object",
  "definitions": {
    "files_list": {"type": "string", "enum": []},
    "test_data_categories": {"type": "string", "enum": []},
    "installed_testers": {"type": "string", "enum": ["py", "java"]}
  }
}`

func newTranslator(t *testing.T) *translations.Translator {
	t.Helper()
	tr, err := translations.New("en")
	require.NoError(t, err)
	return tr
}

func path(doc map[string]any, keys ...string) map[string]any {
	cur := doc
	for _, k := range keys {
		cur = cur[k].(map[string]any)
	}
	return cur
}

func TestCompose(t *testing.T) {
	static, err := specdoc.Parse([]byte(staticSchema))
	require.NoError(t, err)
	criteria := []course.Criterion{
		{ID: 1, Type: "FlexibleCriterion", Name: "style"},
		{ID: 2, Type: "CheckboxCriterion", Name: "docs"},
	}

	out := schema.Compose(static, []string{"test.py", "data/in.txt"}, []string{"student", "ta_only"}, criteria, newTranslator(t))

	defs := path(out, "definitions")
	assert.Equal(t, []string{"test.py", "data/in.txt"}, path(defs, "files_list")["enum"])
	assert.Equal(t, []string{"instructor", "student", "ta_only"}, path(defs, "test_data_categories")["enum"])

	criterion := path(defs, "extra_group_data", "properties", "criterion")
	assert.Equal(t, []string{"FlexibleCriterion:style", "CheckboxCriterion:docs"}, criterion["enum"])
	assert.Equal(t, []string{"style", "docs"}, criterion["enumNames"])

	display := path(defs, "extra_group_data", "properties", "display_output")
	assert.Equal(t, []string{"instructors_only", "instructors_and_student_tests", "instructors_and_students"}, display["enum"])
	assert.Equal(t, "instructors_only", display["default"])
	assert.Len(t, display["enumNames"], 3)
	assert.Equal(t, "Instructors only", display["enumNames"].([]string)[0])

	name := path(defs, "extra_group_data", "properties", "name")
	assert.Equal(t, "Test Group", name["default"])

	// untouched definitions survive
	assert.Contains(t, defs, "installed_testers")

	// static is not modified
	assert.Empty(t, path(static, "definitions", "files_list")["enum"])
	assert.NotContains(t, path(static, "definitions"), "extra_group_data")
}

func TestCompose_NoCriteriaGivesEmptyArrays(t *testing.T) {
	static, err := specdoc.Parse([]byte(staticSchema))
	require.NoError(t, err)

	out := schema.Compose(static, nil, nil, nil, newTranslator(t))

	criterion := path(out, "definitions", "extra_group_data", "properties", "criterion")
	require.Contains(t, criterion, "enum")
	require.Contains(t, criterion, "enumNames")
	assert.NotNil(t, criterion["enum"])
	assert.Empty(t, criterion["enum"])
	assert.NotNil(t, criterion["enumNames"])

	data, err := out.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"enum":[]`)
}

func TestCompose_MissingDefinitionsAreCreated(t *testing.T) {
	out := schema.Compose(specdoc.Document{}, []string{"a"}, nil, nil, newTranslator(t))
	assert.Equal(t, []string{"a"}, path(out, "definitions", "files_list")["enum"])
}

type fakeFiles []string

func (f fakeFiles) List(ctx context.Context, assignmentID int64) ([]string, error) {
	return f, nil
}

func TestComposer(t *testing.T) {
	courses := course.NewInMemRepo()
	courses.PutCriterion(course.Criterion{ID: 1, AssignmentID: 5, Type: "RubricCriterion", Name: "tests"})
	composer := schema.NewComposer(courses, fakeFiles{"run.sh"}, newTranslator(t))

	out, err := composer.Compose(context.Background(), specdoc.Document{}, 5, nil)
	require.NoError(t, err)

	defs := path(out, "definitions")
	assert.Equal(t, []string{"run.sh"}, path(defs, "files_list")["enum"])
	assert.Equal(t, []string{"RubricCriterion:tests"},
		path(defs, "extra_group_data", "properties", "criterion")["enum"])
}
