// Package schema fills the autotester's form schema with the choices that
// only this side knows: uploaded files, test categories and criteria.
package schema

import (
	"context"
	"fmt"
	"slices"

	"github.com/programme-lv/autotest/course"
	"github.com/programme-lv/autotest/specdoc"
	"github.com/programme-lv/autotest/testgroup"
	"github.com/programme-lv/autotest/testrun"
	"github.com/programme-lv/autotest/translations"
)

// ExtraGroupSchema describes the extra_info block of one test group.
// Criterion enums are empty arrays, never absent, when there are no criteria.
func ExtraGroupSchema(criteria []course.Criterion, tr *translations.Translator) map[string]any {
	identifiers := make([]string, 0, len(criteria))
	names := make([]string, 0, len(criteria))
	for _, c := range criteria {
		identifiers = append(identifiers, c.Identifier())
		names = append(names, c.Name)
	}

	outputs := testgroup.DisplayOutputs()
	outputKeys := make([]string, len(outputs))
	outputNames := make([]string, len(outputs))
	for i, o := range outputs {
		outputKeys[i] = string(o)
		outputNames[i] = tr.Msg(translations.DisplayOutputKeyPrefix + string(o))
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":    "string",
				"title":   tr.Msg(translations.TestGroupNameTitle),
				"default": tr.Msg(translations.TestGroupModel),
			},
			"display_output": map[string]any{
				"type":      "string",
				"enum":      outputKeys,
				"enumNames": outputNames,
				"default":   outputKeys[0],
				"title":     tr.Msg(translations.DisplayOutputTitle),
			},
			"criterion": map[string]any{
				"type":      "string",
				"enum":      identifiers,
				"enumNames": names,
				"title":     tr.Msg(translations.CriterionModel),
			},
		},
		"required": []string{"display_output"},
	}
}

// Compose returns a copy of static with definitions.files_list.enum,
// definitions.test_data_categories.enum and definitions.extra_group_data
// filled in. static is not modified.
func Compose(static specdoc.Document, files []string, categories []string, criteria []course.Criterion, tr *translations.Translator) specdoc.Document {
	schema := static.Clone()
	if schema == nil {
		schema = specdoc.Document{}
	}
	definitions := child(schema, "definitions")
	child(definitions, "files_list")["enum"] = append([]string{}, files...)
	child(definitions, "test_data_categories")["enum"] = mergeCategories(categories)
	definitions["extra_group_data"] = ExtraGroupSchema(criteria, tr)
	return schema
}

func child(parent map[string]any, key string) map[string]any {
	m, ok := parent[key].(map[string]any)
	if !ok {
		m = map[string]any{}
		parent[key] = m
	}
	return m
}

func mergeCategories(observed []string) []string {
	all := testrun.AllTestCategories()
	for _, c := range observed {
		if !slices.Contains(all, c) {
			all = append(all, c)
		}
	}
	return all
}

type FileLister interface {
	List(ctx context.Context, assignmentID int64) ([]string, error)
}

// Composer gathers an assignment's files and criteria for Compose.
type Composer struct {
	criteria testgroup.CriteriaLister
	files    FileLister
	tr       *translations.Translator
}

func NewComposer(criteria testgroup.CriteriaLister, files FileLister, tr *translations.Translator) *Composer {
	return &Composer{criteria: criteria, files: files, tr: tr}
}

func (c *Composer) Compose(ctx context.Context, static specdoc.Document, assignmentID int64, observedCategories []string) (specdoc.Document, error) {
	files, err := c.files.List(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list test files: %w", err)
	}
	criteria, err := c.criteria.ListCriteria(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list criteria: %w", err)
	}
	return Compose(static, files, observedCategories, criteria, c.tr), nil
}
