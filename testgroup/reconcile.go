package testgroup

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/programme-lv/autotest/course"
	"github.com/programme-lv/autotest/logger"
	"github.com/programme-lv/autotest/specdoc"
	"github.com/programme-lv/autotest/srvcerror"
	"github.com/programme-lv/autotest/translations"
)

type CriteriaLister interface {
	ListCriteria(ctx context.Context, assignmentID int64) ([]course.Criterion, error)
}

// Reconciler makes an assignment's test group rows match the groups
// declared in its spec document.
type Reconciler struct {
	repo     Repo
	criteria CriteriaLister
	store    specdoc.Store
	tr       *translations.Translator
}

func NewReconciler(repo Repo, criteria CriteriaLister, store specdoc.Store, tr *translations.Translator) *Reconciler {
	return &Reconciler{repo: repo, criteria: criteria, store: store, tr: tr}
}

// Reconcile creates, updates and deletes test groups in one transaction so
// that afterwards the assignment has exactly one row per group spec in doc.
// New ids are written into doc. It returns localized warnings for criteria
// that could not be resolved.
func (r *Reconciler) Reconcile(ctx context.Context, assignmentID int64, doc specdoc.Document) ([]string, error) {
	ctx = logger.WithAssignment(ctx, assignmentID)
	log := logger.FromContext(ctx)

	criteria, err := r.criteria.ListCriteria(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list criteria: %w", err)
	}
	criteriaMap := make(map[string]int64, len(criteria))
	for _, c := range criteria {
		criteriaMap[c.Identifier()] = c.ID
	}

	var warnings []string
	err = r.repo.InTx(ctx, assignmentID, func(tx Tx) error {
		warnings = nil
		var touched []int64
		for _, spec := range doc.GroupSpecs() {
			tg, warning, err := r.fieldsFromSpec(assignmentID, spec, criteriaMap)
			if err != nil {
				return err
			}
			if warning != "" {
				log.Warn("test group criterion not found", "warning", warning)
				warnings = append(warnings, warning)
			}

			id, ok := spec.TestGroupID()
			if !ok {
				id, err = tx.Create(ctx, tg)
				if err != nil {
					return err
				}
				spec.SetTestGroupID(id)
				log.Debug("created test group", "test_group_id", id, "name", tg.Name)
			} else {
				tg.ID = id
				if err := tx.Update(ctx, tg); err != nil {
					if errors.Is(err, ErrNotFound) {
						return srvcerror.ErrNotFound(fmt.Sprintf("test group %d", id)).SetDebug(err)
					}
					return err
				}
			}
			if !slices.Contains(touched, id) {
				touched = append(touched, id)
			}
		}

		if len(touched) == 0 {
			log.Warn("reconciled spec has no test groups, deleting all of the assignment's test groups")
		}
		deleted, err := tx.DeleteExcept(ctx, assignmentID, touched)
		if err != nil {
			return err
		}
		log.Info("reconciled test groups", "kept", len(touched), "deleted", deleted)
		return nil
	})
	if err != nil {
		return warnings, err
	}
	return warnings, nil
}

// UpdateFromSpecs reconciles doc and then always saves it, also when the
// transaction failed, so that ids assigned before the failure are not
// created again on retry. Pushes for one assignment are serialized until
// the document is saved, so the saved document matches the committed rows.
func (r *Reconciler) UpdateFromSpecs(ctx context.Context, assignmentID int64, doc specdoc.Document) (warnings []string, err error) {
	unlock, err := r.repo.LockAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock assignment spec: %w", err)
	}
	defer unlock()

	defer func() {
		if saveErr := r.store.Save(ctx, assignmentID, doc); saveErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to save spec document: %w", saveErr))
		}
	}()
	return r.Reconcile(ctx, assignmentID, doc)
}

func (r *Reconciler) fieldsFromSpec(assignmentID int64, spec specdoc.GroupSpec, criteriaMap map[string]int64) (TestGroup, string, error) {
	tg := TestGroup{
		AssignmentID:  assignmentID,
		DisplayOutput: DisplayOutputs()[0],
		Name:          r.tr.Msg(translations.TestGroupModel),
	}
	if do, ok := spec.DisplayOutput(); ok {
		if !slices.Contains(DisplayOutputs(), DisplayOutput(do)) {
			return TestGroup{}, "", srvcerror.ErrInvalidRequest(fmt.Sprintf("invalid display_output %q", do))
		}
		tg.DisplayOutput = DisplayOutput(do)
	}
	if name, ok := spec.Name(); ok {
		tg.Name = name
	}

	var warning string
	if ident, ok := spec.Criterion(); ok {
		if id, found := criteriaMap[ident]; found {
			tg.CriterionID = &id
		} else {
			typ, name, _ := strings.Cut(ident, ":")
			warning = r.tr.Msg(translations.NoCriteria, typ, name)
		}
	}
	return tg, warning, nil
}
