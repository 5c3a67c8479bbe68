// Package syncer implements the data-source sync orchestrator: it fetches
// a complete snapshot through the source's adapter, diffs it against the
// canonical per-source store by external code and applies the result in a
// single transaction, departments before users. Runs are mutually excluded
// per source by a non-blocking lease; a second invocation fails immediately
// instead of queueing.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-user-sub004/internal/adapter"
	"github.com/TencentBlueKing/bk-user-sub004/internal/adapter/factory"
	"github.com/TencentBlueKing/bk-user-sub004/internal/db/controller/datasource"
	"github.com/TencentBlueKing/bk-user-sub004/internal/db/controller/synctask"
	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
	"github.com/TencentBlueKing/bk-user-sub004/internal/locker"
	"github.com/TencentBlueKing/bk-user-sub004/internal/recorder"
	"github.com/TencentBlueKing/bk-user-sub004/internal/signal"
)

const defaultLockTTL = 2 * time.Hour

// Options narrow the behavior of one sync run.
type Options struct {
	// Overwrite allows replacing same-named users already present from
	// manual edits.
	Overwrite bool
	// Incremental skips deletion of records absent from the fetch, for
	// partial uploads.
	Incremental bool
	// Trigger records what started the run.
	Trigger models.SyncTaskTrigger
	// Operator is the account behind a manual run.
	Operator string
}

// Projector propagates a successful data-source sync into tenant
// projections. It is called after the task reached its terminal state.
type Projector interface {
	ProjectSource(ctx context.Context, source *models.DataSource)
}

// AdapterBuilder constructs the adapter for a data source. Tests substitute
// it with a fake.
type AdapterBuilder func(source *models.DataSource) (adapter.Adapter, error)

// Orchestrator runs data-source syncs.
type Orchestrator struct {
	db           *gorm.DB
	locker       *locker.Locker
	bus          *signal.Bus
	lockTTL      time.Duration
	buildAdapter AdapterBuilder
	projector    Projector
}

// New creates an Orchestrator. A zero lockTTL falls back to the default.
func New(db *gorm.DB, lk *locker.Locker, bus *signal.Bus, lockTTL time.Duration) *Orchestrator {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}

	return &Orchestrator{
		db:           db,
		locker:       lk,
		bus:          bus,
		lockTTL:      lockTTL,
		buildAdapter: factory.New,
	}
}

// SetProjector wires the tenant projection run after successful syncs.
func (o *Orchestrator) SetProjector(projector Projector) {
	o.projector = projector
}

// SetAdapterBuilder overrides adapter construction, for tests.
func (o *Orchestrator) SetAdapterBuilder(build AdapterBuilder) {
	o.buildAdapter = build
}

// Run creates a task for the source and executes it synchronously. The
// returned task ID is valid even when the run fails.
func (o *Orchestrator) Run(ctx context.Context, sourceID uint64, opts Options) (uint64, error) {
	task, err := synctask.CreateDataSourceTask(o.db, sourceID, opts.Trigger, opts.Operator)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create sync task")
	}

	return task.ID, o.ExecuteTask(ctx, task, opts)
}

// ExecuteTask runs an already created task to its terminal state, publishes
// the completion signal and, on success, triggers tenant projection.
func (o *Orchestrator) ExecuteTask(ctx context.Context, task *models.DataSourceSyncTask, opts Options) error {
	source, err := datasource.Get(o.db, task.SourceID)
	if err != nil {
		o.failTask(task, err)

		return err
	}

	err = o.executeLocked(ctx, source, task, opts)

	o.bus.Publish(signal.Completion{
		TenantID: source.TenantID,
		SourceID: source.ID,
		TaskID:   task.ID,
		Status:   task.Status,
	})

	if err == nil && o.projector != nil {
		o.projector.ProjectSource(ctx, source)
	}

	return err
}

// executeLocked wraps the sync body with the source lease and the task
// state transitions. The lease is released and the task finalized on every
// path, panics included.
func (o *Orchestrator) executeLocked(
	ctx context.Context,
	source *models.DataSource,
	task *models.DataSourceSyncTask,
	opts Options,
) (err error) {
	if source.Kind == models.DataSourceKindLocal {
		err = ErrLocalSourceNotSyncable
		o.failTask(task, err)

		return err
	}

	lockName := locker.DataSourceLockName(source.ID)

	acquired, errLock := o.locker.Acquire(ctx, lockName, o.lockTTL)
	if errLock != nil {
		err = errors.Wrap(errLock, "lock backend unreachable")
		o.failTask(task, err)

		return err
	}

	if !acquired {
		err = ErrSyncAlreadyRunning
		o.failTask(task, err)

		return err
	}

	defer func() {
		// Release outlives a canceled run context.
		if errRelease := o.locker.Release(context.Background(), lockName); errRelease != nil {
			log.Error().Err(errRelease).Str("lock", lockName).Msg("failed to release data source lock")
		}
	}()

	if errStart := synctask.StartDataSourceTask(o.db, task); errStart != nil {
		err = errors.Wrap(errStart, "failed to start sync task")

		return err
	}

	rec := recorder.New()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("sync panicked: %v", r)
			log.Error().Uint64("source_id", source.ID).Interface("panic", r).Msg("data source sync panicked")
		}

		o.finalize(task, rec, err)
	}()

	err = o.execute(ctx, source, task, opts, rec)

	return err
}

// execute is the sync body: fetch, map, diff, validate, apply.
func (o *Orchestrator) execute(
	ctx context.Context,
	source *models.DataSource,
	task *models.DataSourceSyncTask,
	opts Options,
	rec *recorder.Recorder,
) error {
	sourceAdapter, err := o.buildAdapter(source)
	if err != nil {
		return err
	}

	rawDepartments, err := sourceAdapter.FetchDepartments(ctx)
	if err != nil {
		return err
	}

	rawUsers, err := sourceAdapter.FetchUsers(ctx)
	if err != nil {
		return err
	}

	mappings, err := source.Mappings()
	if err != nil {
		return adapter.NewFormatErrorCause("decode field mapping", err)
	}

	departments := make([]canonicalDepartment, 0, len(rawDepartments))
	for _, raw := range rawDepartments {
		departments = append(departments, mapDepartment(raw))
	}

	users := make([]canonicalUser, 0, len(rawUsers))

	for _, raw := range rawUsers {
		user, errMap := mapUser(mappings, raw)
		if errMap != nil {
			return errMap
		}

		users = append(users, user)
	}

	departments = normalizeOrder(departments)

	snapshot, err := o.loadSnapshot(source.ID)
	if err != nil {
		return errors.Wrap(err, "failed to load canonical snapshot")
	}

	diffOpts := diffOptions{incremental: opts.Incremental, overwrite: opts.Overwrite}

	departmentPlan, err := diffDepartments(snapshot.departments, snapshot.parentCodes, departments, diffOpts)
	if err != nil {
		return err
	}

	// The single-tree property must hold for what the store will contain
	// after the apply, not for the fetch alone: an incremental upload may
	// legitimately hang below stored departments, and must not introduce a
	// second root.
	if err = validateTree(mergeDepartments(snapshot.departments, snapshot.parentCodes, departmentPlan)); err != nil {
		return err
	}

	userPlan, err := diffUsers(snapshot.users, snapshot.relations, users, diffOpts)
	if err != nil {
		return err
	}

	if len(userPlan.skipped) > 0 {
		task.HasWarning = true
	}

	finalUsers, err := finalUserSet(snapshot.users, userPlan)
	if err != nil {
		return err
	}

	if err = validateUniqueFields(mappings, finalUsers); err != nil {
		return err
	}

	// Everything below mutates the canonical store; one transaction keeps
	// the all-or-nothing guarantee.
	err = o.db.Transaction(func(tx *gorm.DB) error {
		if errApply := applyDepartments(tx, source.ID, departmentPlan, rec); errApply != nil {
			return errApply
		}

		return applyUsers(tx, source.ID, userPlan, users, rec)
	})
	if err != nil {
		return errors.Wrap(err, "failed to apply sync plan")
	}

	if err = datasource.TouchLastSynced(o.db, source.ID, time.Now()); err != nil {
		return errors.Wrap(err, "failed to record sync completion time")
	}

	return nil
}

// failTask finalizes a task that never reached the running state.
func (o *Orchestrator) failTask(task *models.DataSourceSyncTask, cause error) {
	if errLog := synctask.AppendDataSourceTaskLog(o.db, task, cause.Error()); errLog != nil {
		log.Error().Err(errLog).Uint64("task_id", task.ID).Msg("failed to append task log")
	}

	if errFinish := synctask.FinishDataSourceTask(o.db, task, models.SyncTaskStatusFailed, false); errFinish != nil {
		log.Error().Err(errFinish).Uint64("task_id", task.ID).Msg("failed to finish task")
	}
}

// finalize moves a running task to its terminal state with the change
// summary (or the failure) appended to the log.
func (o *Orchestrator) finalize(task *models.DataSourceSyncTask, rec *recorder.Recorder, cause error) {
	status := models.SyncTaskStatusSuccess
	line := rec.Summary()

	if cause != nil {
		status = models.SyncTaskStatusFailed
		line = cause.Error()
	}

	if errLog := synctask.AppendDataSourceTaskLog(o.db, task, line); errLog != nil {
		log.Error().Err(errLog).Uint64("task_id", task.ID).Msg("failed to append task log")
	}

	if errFinish := synctask.FinishDataSourceTask(o.db, task, status, task.HasWarning); errFinish != nil {
		log.Error().Err(errFinish).Uint64("task_id", task.ID).Msg("failed to finish task")
	}

	log.Info().
		Uint64("source_id", task.SourceID).
		Uint64("task_id", task.ID).
		Str("status", string(status)).
		Int("changes", rec.Total()).
		Msg("data source sync finished")
}

// userRelations is the current relation state of one canonical user.
type userRelations struct {
	departments []string
	leaders     []string
}

// sourceSnapshot is the canonical store content for one source.
type sourceSnapshot struct {
	users       []models.SourceUser
	departments []models.SourceDepartment
	// relations maps user ID to its current department and leader codes.
	relations map[uint64]userRelations
	// parentCodes maps department ID to its current parent code.
	parentCodes map[uint64]string
}

func (o *Orchestrator) loadSnapshot(sourceID uint64) (*sourceSnapshot, error) {
	snapshot := &sourceSnapshot{
		relations:   make(map[uint64]userRelations),
		parentCodes: make(map[uint64]string),
	}

	if err := o.db.Where("source_id = ?", sourceID).Find(&snapshot.users).Error; err != nil {
		return nil, err
	}

	if err := o.db.Where("source_id = ?", sourceID).Find(&snapshot.departments).Error; err != nil {
		return nil, err
	}

	userCodeByID := make(map[uint64]string, len(snapshot.users))
	for _, user := range snapshot.users {
		userCodeByID[user.ID] = user.Code
	}

	deptCodeByID := make(map[uint64]string, len(snapshot.departments))
	for _, dept := range snapshot.departments {
		deptCodeByID[dept.ID] = dept.Code
	}

	for _, dept := range snapshot.departments {
		if dept.ParentID != nil {
			snapshot.parentCodes[dept.ID] = deptCodeByID[*dept.ParentID]
		}
	}

	var memberships []models.SourceDepartmentUserRelation
	if err := o.db.Where("source_id = ?", sourceID).Find(&memberships).Error; err != nil {
		return nil, err
	}

	var leaderships []models.SourceLeaderRelation
	if err := o.db.Where("source_id = ?", sourceID).Find(&leaderships).Error; err != nil {
		return nil, err
	}

	for _, membership := range memberships {
		relations := snapshot.relations[membership.UserID]
		relations.departments = append(relations.departments, deptCodeByID[membership.DepartmentID])
		snapshot.relations[membership.UserID] = relations
	}

	for _, leadership := range leaderships {
		relations := snapshot.relations[leadership.UserID]
		relations.leaders = append(relations.leaders, userCodeByID[leadership.LeaderID])
		snapshot.relations[leadership.UserID] = relations
	}

	return snapshot, nil
}

// applyDepartments applies the department plan inside the transaction.
// Creates run parents-first so ParentID always resolves; deletes drop the
// membership rows pointing at the removed departments.
func applyDepartments(tx *gorm.DB, sourceID uint64, plan departmentDiff, rec *recorder.Recorder) error {
	idByCode := make(map[string]uint64)

	var existing []models.SourceDepartment
	if err := tx.Where("source_id = ?", sourceID).Find(&existing).Error; err != nil {
		return err
	}

	for _, dept := range existing {
		idByCode[dept.Code] = dept.ID
	}

	// Multiple passes: a create is applied once its parent has an ID,
	// either pre-existing or created in an earlier pass. The validated
	// single tree guarantees progress.
	pending := append([]canonicalDepartment(nil), plan.creates...)

	for len(pending) > 0 {
		var next []canonicalDepartment

		progressed := false

		for _, dept := range pending {
			var parentID *uint64

			if dept.parentCode != "" {
				id, ok := idByCode[dept.parentCode]
				if !ok {
					next = append(next, dept)

					continue
				}

				parentID = &id
			}

			row := models.SourceDepartment{
				SourceID: sourceID,
				Code:     dept.code,
				Name:     dept.name,
				ParentID: parentID,
				Order:    dept.order,
			}
			if err := row.SetExtras(dept.extras); err != nil {
				return err
			}

			if err := tx.Create(&row).Error; err != nil {
				return err
			}

			idByCode[dept.code] = row.ID
			progressed = true

			rec.Record(recorder.OperationCreate, recorder.KindDepartment, dept.name)
		}

		if !progressed {
			return fmt.Errorf("%w: unresolvable parents for %d departments", ErrMissingParent, len(next))
		}

		pending = next
	}

	for _, update := range plan.updates {
		row := update.existing
		row.Name = update.incoming.name
		row.Order = update.incoming.order
		row.ParentID = nil

		if update.incoming.parentCode != "" {
			id, ok := idByCode[update.incoming.parentCode]
			if !ok {
				return fmt.Errorf("%w: %s", ErrMissingParent, update.incoming.parentCode)
			}

			row.ParentID = &id
		}

		if err := row.SetExtras(update.incoming.extras); err != nil {
			return err
		}

		if err := tx.Save(&row).Error; err != nil {
			return err
		}

		rec.Record(recorder.OperationUpdate, recorder.KindDepartment, row.Name)
	}

	if len(plan.deletes) > 0 {
		ids := make([]uint64, 0, len(plan.deletes))

		for _, dept := range plan.deletes {
			ids = append(ids, dept.ID)
			rec.Record(recorder.OperationDelete, recorder.KindDepartment, dept.Name)
		}

		if err := tx.Where("department_id IN ?", ids).
			Delete(&models.SourceDepartmentUserRelation{}).Error; err != nil {
			return err
		}

		if err := tx.Where("id IN ?", ids).Delete(&models.SourceDepartment{}).Error; err != nil {
			return err
		}
	}

	return nil
}

// applyUsers applies the user plan inside the transaction, then rebuilds
// the relation rows of every created or updated user from the fetched
// snapshot.
func applyUsers(
	tx *gorm.DB,
	sourceID uint64,
	plan userDiff,
	incoming []canonicalUser,
	rec *recorder.Recorder,
) error {
	if len(plan.deletes) > 0 {
		ids := make([]uint64, 0, len(plan.deletes))

		for _, user := range plan.deletes {
			ids = append(ids, user.ID)
			rec.Record(recorder.OperationDelete, recorder.KindUser, user.Username)
		}

		if err := tx.Where("user_id IN ?", ids).
			Delete(&models.SourceDepartmentUserRelation{}).Error; err != nil {
			return err
		}

		if err := tx.Where("user_id IN ? OR leader_id IN ?", ids, ids).
			Delete(&models.SourceLeaderRelation{}).Error; err != nil {
			return err
		}

		if err := tx.Where("id IN ?", ids).Delete(&models.SourceUser{}).Error; err != nil {
			return err
		}
	}

	touched := make([]string, 0, len(plan.creates)+len(plan.updates))

	for _, user := range plan.creates {
		row := models.SourceUser{
			SourceID:         sourceID,
			Code:             user.code,
			Username:         user.username,
			FullName:         user.fullName,
			Email:            user.email,
			Phone:            user.phone,
			PhoneCountryCode: user.phoneCountryCode,
		}
		if err := row.SetExtras(user.extras); err != nil {
			return err
		}

		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		touched = append(touched, user.code)
		rec.Record(recorder.OperationCreate, recorder.KindUser, user.username)
	}

	for _, update := range plan.updates {
		row := update.existing
		row.Username = update.incoming.username
		row.FullName = update.incoming.fullName
		row.Email = update.incoming.email
		row.Phone = update.incoming.phone
		row.PhoneCountryCode = update.incoming.phoneCountryCode

		if err := row.SetExtras(update.incoming.extras); err != nil {
			return err
		}

		if err := tx.Save(&row).Error; err != nil {
			return err
		}

		touched = append(touched, row.Code)
		rec.Record(recorder.OperationUpdate, recorder.KindUser, row.Username)
	}

	return rebuildRelations(tx, sourceID, touched, incoming)
}

// rebuildRelations replaces the membership and leader rows of the touched
// users with the fetched state. References to codes outside the snapshot
// are dropped with a warning.
func rebuildRelations(tx *gorm.DB, sourceID uint64, touched []string, incoming []canonicalUser) error {
	if len(touched) == 0 {
		return nil
	}

	var users []models.SourceUser
	if err := tx.Where("source_id = ?", sourceID).Find(&users).Error; err != nil {
		return err
	}

	userIDByCode := make(map[string]uint64, len(users))
	for _, user := range users {
		userIDByCode[user.Code] = user.ID
	}

	var departments []models.SourceDepartment
	if err := tx.Where("source_id = ?", sourceID).Find(&departments).Error; err != nil {
		return err
	}

	deptIDByCode := make(map[string]uint64, len(departments))
	for _, dept := range departments {
		deptIDByCode[dept.Code] = dept.ID
	}

	incomingByCode := make(map[string]canonicalUser, len(incoming))
	for _, user := range incoming {
		incomingByCode[user.code] = user
	}

	for _, code := range touched {
		user, ok := incomingByCode[code]
		if !ok {
			continue
		}

		userID := userIDByCode[code]

		if err := tx.Where("user_id = ?", userID).
			Delete(&models.SourceDepartmentUserRelation{}).Error; err != nil {
			return err
		}

		if err := tx.Where("user_id = ?", userID).
			Delete(&models.SourceLeaderRelation{}).Error; err != nil {
			return err
		}

		for _, deptCode := range user.departments {
			deptID, known := deptIDByCode[deptCode]
			if !known {
				log.Warn().
					Str("user", code).
					Str("department", deptCode).
					Msg("membership references a department outside the snapshot, dropped")

				continue
			}

			relation := models.SourceDepartmentUserRelation{
				SourceID:     sourceID,
				UserID:       userID,
				DepartmentID: deptID,
			}
			if err := tx.Create(&relation).Error; err != nil {
				return err
			}
		}

		for _, leaderCode := range user.leaders {
			leaderID, known := userIDByCode[leaderCode]
			if !known {
				log.Warn().
					Str("user", code).
					Str("leader", leaderCode).
					Msg("leader reference outside the snapshot, dropped")

				continue
			}

			relation := models.SourceLeaderRelation{
				SourceID: sourceID,
				UserID:   userID,
				LeaderID: leaderID,
			}
			if err := tx.Create(&relation).Error; err != nil {
				return err
			}
		}
	}

	return nil
}
