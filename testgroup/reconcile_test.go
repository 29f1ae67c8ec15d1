package testgroup_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/programme-lv/autotest/course"
	"github.com/programme-lv/autotest/specdoc"
	"github.com/programme-lv/autotest/srvcerror"
	"github.com/programme-lv/autotest/testgroup"
	"github.com/programme-lv/autotest/translations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const assignmentID = 1

type fixture struct {
	repo       *testgroup.InMemRepo
	courses    *course.InMemRepo
	store      *specdoc.FileStore
	reconciler *testgroup.Reconciler
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	tr, err := translations.New("en")
	require.NoError(t, err)

	courses := course.NewInMemRepo()
	courses.PutCriterion(course.Criterion{ID: 40, AssignmentID: assignmentID, Type: "FlexibleCriterion", Name: "style"})
	courses.PutCriterion(course.Criterion{ID: 41, AssignmentID: 2, Type: "FlexibleCriterion", Name: "other"})

	repo := testgroup.NewInMemRepo()
	store := specdoc.NewFileStore(t.TempDir())
	return fixture{
		repo:       repo,
		courses:    courses,
		store:      store,
		reconciler: testgroup.NewReconciler(repo, courses, store, tr),
	}
}

func parse(t *testing.T, s string) specdoc.Document {
	t.Helper()
	doc, err := specdoc.Parse([]byte(s))
	require.NoError(t, err)
	return doc
}

func TestReconcile_CreatesGroupAndWritesIDBack(t *testing.T) {
	f := newFixture(t)
	doc := parse(t, `{"testers": [{"test_data": [
		{"extra_info": {"name": "Public Tests", "display_output": "instructors_and_student_tests"}}
	]}]}`)

	warnings, err := f.reconciler.Reconcile(context.Background(), assignmentID, doc)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	groups, err := f.repo.List(context.Background(), assignmentID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Public Tests", groups[0].Name)
	assert.Equal(t, testgroup.InstructorsAndStudentTests, groups[0].DisplayOutput)
	assert.Nil(t, groups[0].CriterionID)

	id, ok := doc.GroupSpecs()[0].TestGroupID()
	require.True(t, ok)
	assert.Equal(t, groups[0].ID, id)
}

func TestReconcile_Defaults(t *testing.T) {
	f := newFixture(t)
	doc := parse(t, `{"testers": [{"test_data": [{"script_files": ["t.py"]}]}]}`)

	_, err := f.reconciler.Reconcile(context.Background(), assignmentID, doc)
	require.NoError(t, err)

	groups, _ := f.repo.List(context.Background(), assignmentID)
	require.Len(t, groups, 1)
	assert.Equal(t, "Test Group", groups[0].Name)
	assert.Equal(t, testgroup.InstructorsOnly, groups[0].DisplayOutput)
}

func TestReconcile_IdempotentSecondPass(t *testing.T) {
	f := newFixture(t)
	doc := parse(t, `{"testers": [
		{"test_data": [{"extra_info": {"name": "a"}}, {"extra_info": {"name": "b"}}]},
		{"test_data": [{"extra_info": {"name": "c", "criterion": "FlexibleCriterion:style"}}]}
	]}`)
	ctx := context.Background()

	_, err := f.reconciler.Reconcile(ctx, assignmentID, doc)
	require.NoError(t, err)
	require.Equal(t, 3, f.repo.Creates)

	_, err = f.reconciler.Reconcile(ctx, assignmentID, doc)
	require.NoError(t, err)
	assert.Equal(t, 3, f.repo.Creates)
	assert.Equal(t, 0, f.repo.Deletes)
	assert.Equal(t, 3, f.repo.Updates)

	groups, _ := f.repo.List(ctx, assignmentID)
	require.Len(t, groups, 3)
	require.NotNil(t, groups[2].CriterionID)
	assert.Equal(t, int64(40), *groups[2].CriterionID)
}

func TestReconcile_DeletesByExclusion(t *testing.T) {
	f := newFixture(t)
	ids := f.repo.Seed(
		testgroup.TestGroup{AssignmentID: assignmentID, Name: "one", DisplayOutput: testgroup.InstructorsOnly},
		testgroup.TestGroup{AssignmentID: assignmentID, Name: "two", DisplayOutput: testgroup.InstructorsOnly},
		testgroup.TestGroup{AssignmentID: assignmentID, Name: "three", DisplayOutput: testgroup.InstructorsOnly},
		testgroup.TestGroup{AssignmentID: 2, Name: "other assignment", DisplayOutput: testgroup.InstructorsOnly},
	)
	doc := parse(t, `{"testers": [{"test_data": [
		{"extra_info": {"test_group_id": 2, "name": "two"}},
		{"extra_info": {"test_group_id": 3, "name": "three renamed"}}
	]}]}`)
	require.Equal(t, []int64{1, 2, 3, 4}, ids)

	_, err := f.reconciler.Reconcile(context.Background(), assignmentID, doc)
	require.NoError(t, err)

	groups, _ := f.repo.List(context.Background(), assignmentID)
	require.Len(t, groups, 2)
	assert.Equal(t, int64(2), groups[0].ID)
	assert.Equal(t, int64(3), groups[1].ID)
	assert.Equal(t, "three renamed", groups[1].Name)
	assert.Equal(t, 0, f.repo.Creates)
	assert.Equal(t, 1, f.repo.Deletes)

	other, _ := f.repo.List(context.Background(), 2)
	assert.Len(t, other, 1)
}

func TestReconcile_UnresolvedCriterionWarns(t *testing.T) {
	f := newFixture(t)
	doc := parse(t, `{"testers": [{"test_data": [{"extra_info": {"criterion": "flag:nonexistent"}}]}]}`)

	warnings, err := f.reconciler.Reconcile(context.Background(), assignmentID, doc)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "flag")
	assert.Contains(t, warnings[0], "nonexistent")

	groups, _ := f.repo.List(context.Background(), assignmentID)
	require.Len(t, groups, 1)
	assert.Nil(t, groups[0].CriterionID)
}

func TestReconcile_CriterionOfOtherAssignmentIsUnresolved(t *testing.T) {
	f := newFixture(t)
	doc := parse(t, `{"testers": [{"test_data": [{"extra_info": {"criterion": "FlexibleCriterion:other"}}]}]}`)

	warnings, err := f.reconciler.Reconcile(context.Background(), assignmentID, doc)
	require.NoError(t, err)
	assert.Len(t, warnings, 1)
}

func TestReconcile_EmptySpecDeletesAll(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(
		testgroup.TestGroup{AssignmentID: assignmentID, Name: "one", DisplayOutput: testgroup.InstructorsOnly},
		testgroup.TestGroup{AssignmentID: assignmentID, Name: "two", DisplayOutput: testgroup.InstructorsOnly},
	)

	_, err := f.reconciler.Reconcile(context.Background(), assignmentID, parse(t, `{"testers": []}`))
	require.NoError(t, err)

	groups, _ := f.repo.List(context.Background(), assignmentID)
	assert.Empty(t, groups)
}

func TestReconcile_InvalidDisplayOutputRollsBack(t *testing.T) {
	f := newFixture(t)
	doc := parse(t, `{"testers": [{"test_data": [
		{"extra_info": {"name": "ok"}},
		{"extra_info": {"display_output": "everyone"}}
	]}]}`)

	_, err := f.reconciler.Reconcile(context.Background(), assignmentID, doc)
	require.Error(t, err)
	assert.True(t, srvcerror.HasCode(err, srvcerror.ErrCodeInvalidRequest))

	groups, _ := f.repo.List(context.Background(), assignmentID)
	assert.Empty(t, groups)
	assert.Equal(t, 1, f.repo.Rollbacks)
}

func TestUpdateFromSpecs_SavesDocumentEvenOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := parse(t, `{"testers": [{"test_data": [
		{"extra_info": {"name": "new"}},
		{"extra_info": {"test_group_id": 999, "name": "gone"}}
	]}]}`)

	_, err := f.reconciler.UpdateFromSpecs(ctx, assignmentID, doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, testgroup.ErrNotFound))

	saved, err := f.store.Load(ctx, assignmentID)
	require.NoError(t, err)
	specs := saved.GroupSpecs()
	require.Len(t, specs, 2)
	_, ok := specs[0].TestGroupID()
	assert.True(t, ok, "id assigned before the failure is kept on disk")
}

func TestUpdateFromSpecs_SavesOnSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := parse(t, `{"testers": [{"test_data": [{"extra_info": {"name": "new"}}]}]}`)

	_, err := f.reconciler.UpdateFromSpecs(ctx, assignmentID, doc)
	require.NoError(t, err)

	saved, err := f.store.Load(ctx, assignmentID)
	require.NoError(t, err)
	id, ok := saved.GroupSpecs()[0].TestGroupID()
	require.True(t, ok)

	groups, _ := f.repo.List(ctx, assignmentID)
	require.Len(t, groups, 1)
	assert.Equal(t, groups[0].ID, id)
}

func TestReconcile_ConcurrentPushesForOneAssignmentSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc := parse(t, `{"testers": [{"test_data": [{"extra_info": {"name": "g"}}]}]}`)
			_, err := f.reconciler.Reconcile(ctx, assignmentID, doc)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	groups, _ := f.repo.List(ctx, assignmentID)
	assert.Len(t, groups, 1)
}

// gatedStore holds the first Save until release is closed.
type gatedStore struct {
	specdoc.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Save(ctx context.Context, assignmentID int64, doc specdoc.Document) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.Store.Save(ctx, assignmentID, doc)
}

func TestUpdateFromSpecs_SavedDocumentMatchesLastCommit(t *testing.T) {
	tr, err := translations.New("en")
	require.NoError(t, err)
	repo := testgroup.NewInMemRepo()
	files := specdoc.NewFileStore(t.TempDir())
	store := &gatedStore{Store: files, entered: make(chan struct{}), release: make(chan struct{})}
	reconciler := testgroup.NewReconciler(repo, course.NewInMemRepo(), store, tr)
	ctx := context.Background()

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		doc := parse(t, `{"testers": [{"test_data": [{"extra_info": {"name": "A"}}]}]}`)
		_, err := reconciler.UpdateFromSpecs(ctx, assignmentID, doc)
		assert.NoError(t, err)
	}()
	<-store.entered

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		doc := parse(t, `{"testers": [{"test_data": [{"extra_info": {"name": "B"}}]}]}`)
		_, err := reconciler.UpdateFromSpecs(ctx, assignmentID, doc)
		assert.NoError(t, err)
	}()

	// the second push must wait for the first document to be saved
	assert.Never(t, func() bool {
		groups, _ := repo.List(ctx, assignmentID)
		return len(groups) != 1 || groups[0].Name != "A"
	}, 100*time.Millisecond, 10*time.Millisecond)

	close(store.release)
	<-firstDone
	<-secondDone

	groups, err := repo.List(ctx, assignmentID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "B", groups[0].Name)

	saved, err := files.Load(ctx, assignmentID)
	require.NoError(t, err)
	specs := saved.GroupSpecs()
	require.Len(t, specs, 1)
	id, ok := specs[0].TestGroupID()
	require.True(t, ok)
	assert.Equal(t, groups[0].ID, id)
	name, _ := specs[0].Name()
	assert.Equal(t, "B", name)
}
