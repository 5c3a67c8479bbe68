// Package tenantsync implements the tenant sync orchestrator: it projects
// a data source's canonical users and departments into tenant-scoped rows,
// once for the owning tenant and once per enabled collaboration strategy
// targeting another tenant. Stable identifiers come from the identifier
// generator; identifier records survive user deletion so an identifier is
// never reused for a different external code.
package tenantsync

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-user-sub004/internal/db/controller/synctask"
	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
	"github.com/TencentBlueKing/bk-user-sub004/internal/identifier"
	"github.com/TencentBlueKing/bk-user-sub004/internal/locker"
	"github.com/TencentBlueKing/bk-user-sub004/internal/recorder"
	"github.com/TencentBlueKing/bk-user-sub004/internal/signal"
)

const defaultLockTTL = 2 * time.Hour

var (
	// ErrSyncAlreadyRunning is returned when the (tenant, source) lock is
	// held by another run.
	ErrSyncAlreadyRunning = errors.New("a sync for this tenant and data source is already running")

	// ErrTenantNotFound is returned when the target tenant does not exist.
	ErrTenantNotFound = errors.New("tenant not found")
)

// Orchestrator runs tenant projection syncs.
type Orchestrator struct {
	db      *gorm.DB
	locker  *locker.Locker
	bus     *signal.Bus
	lockTTL time.Duration
}

// New creates an Orchestrator. A zero lockTTL falls back to the default.
func New(db *gorm.DB, lk *locker.Locker, bus *signal.Bus, lockTTL time.Duration) *Orchestrator {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}

	return &Orchestrator{db: db, locker: lk, bus: bus, lockTTL: lockTTL}
}

// ProjectSource runs the projection for the source's owning tenant and then
// for every enabled collaboration strategy sharing that tenant's data.
// Each run is independent; a failing run is logged and does not stop the
// others.
func (o *Orchestrator) ProjectSource(ctx context.Context, source *models.DataSource) {
	if _, err := o.Run(ctx, source.TenantID, source.ID, models.SyncTaskTriggerSignal, ""); err != nil {
		log.Error().Err(err).
			Str("tenant_id", source.TenantID).
			Uint64("source_id", source.ID).
			Msg("owner tenant sync failed")
	}

	var strategies []models.CollaborationStrategy

	err := o.db.
		Where("source_tenant_id = ?", source.TenantID).
		Find(&strategies).Error
	if err != nil {
		log.Error().Err(err).Str("tenant_id", source.TenantID).Msg("failed to list collaboration strategies")

		return
	}

	for _, strategy := range strategies {
		if !strategy.Enabled() {
			continue
		}

		if _, errRun := o.Run(ctx, strategy.TargetTenantID, source.ID, models.SyncTaskTriggerSignal, ""); errRun != nil {
			log.Error().Err(errRun).
				Str("tenant_id", strategy.TargetTenantID).
				Uint64("source_id", source.ID).
				Msg("collaboration tenant sync failed")
		}
	}
}

// CreateTask records a pending projection task for (tenant, source) and
// returns it together with the loaded source.
func (o *Orchestrator) CreateTask(
	tenantID string,
	sourceID uint64,
	trigger models.SyncTaskTrigger,
	operator string,
) (*models.TenantSyncTask, *models.DataSource, error) {
	var source models.DataSource
	if err := o.db.First(&source, sourceID).Error; err != nil {
		return nil, nil, errors.Wrap(err, "failed to load data source")
	}

	task, err := synctask.CreateTenantTask(o.db, tenantID, sourceID, source.TenantID, trigger, operator)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create tenant sync task")
	}

	return task, &source, nil
}

// ExecuteTask drives a previously created task to a terminal state and
// publishes the completion signal.
func (o *Orchestrator) ExecuteTask(
	ctx context.Context,
	source *models.DataSource,
	task *models.TenantSyncTask,
) error {
	err := o.executeLocked(ctx, source, task)

	o.bus.Publish(signal.Completion{
		TenantID: task.TenantID,
		SourceID: source.ID,
		TaskID:   task.ID,
		Status:   task.Status,
	})

	return err
}

// Run creates a task projecting the source into the tenant and executes it
// synchronously. The returned task ID is valid even when the run fails.
func (o *Orchestrator) Run(
	ctx context.Context,
	tenantID string,
	sourceID uint64,
	trigger models.SyncTaskTrigger,
	operator string,
) (uint64, error) {
	task, source, err := o.CreateTask(tenantID, sourceID, trigger, operator)
	if err != nil {
		return 0, err
	}

	return task.ID, o.ExecuteTask(ctx, source, task)
}

func (o *Orchestrator) executeLocked(
	ctx context.Context,
	source *models.DataSource,
	task *models.TenantSyncTask,
) (err error) {
	skip, reason, err := o.shouldSkip(task.TenantID, source)
	if err != nil {
		o.failTask(task, err)

		return err
	}

	if skip {
		// A disabled tenant is policy, not an error: the task succeeds
		// with a warning so the scheduler does not treat it as a failure.
		log.Warn().
			Str("tenant_id", task.TenantID).
			Uint64("source_id", source.ID).
			Str("reason", reason).
			Msg("tenant sync skipped")

		if errLog := synctask.AppendTenantTaskLog(o.db, task, "skipped: "+reason); errLog != nil {
			log.Error().Err(errLog).Uint64("task_id", task.ID).Msg("failed to append task log")
		}

		if errFinish := synctask.FinishTenantTask(o.db, task, models.SyncTaskStatusSuccess, true); errFinish != nil {
			log.Error().Err(errFinish).Uint64("task_id", task.ID).Msg("failed to finish task")
		}

		return nil
	}

	lockName := locker.TenantLockName(task.TenantID, source.ID)

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
		if errRelease := o.locker.Release(context.Background(), lockName); errRelease != nil {
			log.Error().Err(errRelease).Str("lock", lockName).Msg("failed to release tenant sync lock")
		}
	}()

	if errStart := synctask.StartTenantTask(o.db, task); errStart != nil {
		return errors.Wrap(errStart, "failed to start tenant sync task")
	}

	rec := recorder.New()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("tenant sync panicked: %v", r)
			log.Error().Str("tenant_id", task.TenantID).Interface("panic", r).Msg("tenant sync panicked")
		}

		o.finalize(task, rec, err)
	}()

	err = o.execute(task, source, rec)

	return err
}

// shouldSkip applies the disabled-tenant policy: a disabled target tenant
// or a disabled source-owning tenant skips the run entirely.
func (o *Orchestrator) shouldSkip(tenantID string, source *models.DataSource) (bool, string, error) {
	var target models.Tenant
	if err := o.db.First(&target, "id = ?", tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, "", fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
		}

		return false, "", err
	}

	if !target.Enabled {
		return true, "tenant " + tenantID + " is disabled", nil
	}

	if source.TenantID != tenantID {
		var owner models.Tenant
		if err := o.db.First(&owner, "id = ?", source.TenantID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, "", fmt.Errorf("%w: %s", ErrTenantNotFound, source.TenantID)
			}

			return false, "", err
		}

		if !owner.Enabled {
			return true, "owning tenant " + source.TenantID + " is disabled", nil
		}
	}

	return false, "", nil
}

func (o *Orchestrator) failTask(task *models.TenantSyncTask, cause error) {
	if errLog := synctask.AppendTenantTaskLog(o.db, task, cause.Error()); errLog != nil {
		log.Error().Err(errLog).Uint64("task_id", task.ID).Msg("failed to append task log")
	}

	if errFinish := synctask.FinishTenantTask(o.db, task, models.SyncTaskStatusFailed, false); errFinish != nil {
		log.Error().Err(errFinish).Uint64("task_id", task.ID).Msg("failed to finish task")
	}
}

func (o *Orchestrator) finalize(task *models.TenantSyncTask, rec *recorder.Recorder, cause error) {
	status := models.SyncTaskStatusSuccess
	line := rec.Summary()

	if cause != nil {
		status = models.SyncTaskStatusFailed
		line = cause.Error()
	}

	if errLog := synctask.AppendTenantTaskLog(o.db, task, line); errLog != nil {
		log.Error().Err(errLog).Uint64("task_id", task.ID).Msg("failed to append task log")
	}

	if errFinish := synctask.FinishTenantTask(o.db, task, status, task.HasWarning); errFinish != nil {
		log.Error().Err(errFinish).Uint64("task_id", task.ID).Msg("failed to finish task")
	}

	log.Info().
		Str("tenant_id", task.TenantID).
		Uint64("source_id", task.SourceID).
		Uint64("task_id", task.ID).
		Str("status", string(status)).
		Int("changes", rec.Total()).
		Msg("tenant sync finished")
}

// execute projects the canonical snapshot into the tenant: departments
// first, then users, inside one transaction.
func (o *Orchestrator) execute(
	task *models.TenantSyncTask,
	source *models.DataSource,
	rec *recorder.Recorder,
) error {
	scope, extrasMapping, err := o.collaborationSettings(task.TenantID, source)
	if err != nil {
		return err
	}

	var tenant models.Tenant
	if err = o.db.First(&tenant, "id = ?", task.TenantID).Error; err != nil {
		return errors.Wrap(err, "failed to load tenant")
	}

	rule, err := identifier.ParseRule(tenant.UserIDRule)
	if err != nil {
		return err
	}

	generator, err := identifier.New(o.db, tenant.ID, source.ID, rule, tenant.UserIDDomain)
	if err != nil {
		return err
	}

	var departments []models.SourceDepartment
	if err = o.db.Where("source_id = ?", source.ID).Find(&departments).Error; err != nil {
		return errors.Wrap(err, "failed to load canonical departments")
	}

	var users []models.SourceUser
	if err = o.db.Where("source_id = ?", source.ID).Find(&users).Error; err != nil {
		return errors.Wrap(err, "failed to load canonical users")
	}

	inScopeDepts, inScopeUsers, err := o.applyScope(source.ID, scope, departments, users)
	if err != nil {
		return err
	}

	return o.db.Transaction(func(tx *gorm.DB) error {
		if errDepts := o.applyDepartments(tx, task, inScopeDepts, rec); errDepts != nil {
			return errDepts
		}

		return o.applyUsers(tx, task, source, inScopeUsers, generator, extrasMapping, rec)
	})
}

// collaborationSettings resolves the scope and extras mapping when the run
// projects into a tenant other than the source's owner.
func (o *Orchestrator) collaborationSettings(
	tenantID string,
	source *models.DataSource,
) (*models.CollaborationScope, map[string]string, error) {
	if tenantID == source.TenantID {
		return nil, nil, nil
	}

	var strategy models.CollaborationStrategy

	err := o.db.
		Where("source_tenant_id = ? AND target_tenant_id = ?", source.TenantID, tenantID).
		First(&strategy).Error
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load collaboration strategy")
	}

	scope, err := strategy.Scope()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to decode collaboration scope")
	}

	mapping, err := strategy.ExtrasMapping()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to decode collaboration field mapping")
	}

	return &scope, mapping, nil
}

// applyScope filters the canonical snapshot down to the collaboration
// scope: the selected department subtrees and the users attached to them.
// A nil scope (owner run) or an all-departments scope keeps everything.
func (o *Orchestrator) applyScope(
	sourceID uint64,
	scope *models.CollaborationScope,
	departments []models.SourceDepartment,
	users []models.SourceUser,
) ([]models.SourceDepartment, []models.SourceUser, error) {
	if scope == nil || scope.AllDepartments {
		return departments, users, nil
	}

	roots := make(map[string]bool, len(scope.DepartmentCodes))
	for _, code := range scope.DepartmentCodes {
		roots[code] = true
	}

	childrenByParent := make(map[uint64][]uint64, len(departments))
	idByCode := make(map[string]uint64, len(departments))

	for _, dept := range departments {
		idByCode[dept.Code] = dept.ID

		if dept.ParentID != nil {
			childrenByParent[*dept.ParentID] = append(childrenByParent[*dept.ParentID], dept.ID)
		}
	}

	inScope := make(map[uint64]bool)

	var walk func(id uint64)
	walk = func(id uint64) {
		if inScope[id] {
			return
		}

		inScope[id] = true

		for _, child := range childrenByParent[id] {
			walk(child)
		}
	}

	for code := range roots {
		if id, ok := idByCode[code]; ok {
			walk(id)
		}
	}

	var scopedDepts []models.SourceDepartment
	for _, dept := range departments {
		if inScope[dept.ID] {
			scopedDepts = append(scopedDepts, dept)
		}
	}

	var memberships []models.SourceDepartmentUserRelation
	if err := o.db.Where("source_id = ?", sourceID).Find(&memberships).Error; err != nil {
		return nil, nil, errors.Wrap(err, "failed to load department memberships")
	}

	memberUsers := make(map[uint64]bool)
	for _, membership := range memberships {
		if inScope[membership.DepartmentID] {
			memberUsers[membership.UserID] = true
		}
	}

	var scopedUsers []models.SourceUser
	for _, user := range users {
		if memberUsers[user.ID] {
			scopedUsers = append(scopedUsers, user)
		}
	}

	return scopedDepts, scopedUsers, nil
}

// applyDepartments reconciles the TenantDepartment rows for (tenant,
// source) against the in-scope canonical departments, preserving untouched
// rows and their tenant-local identifiers.
func (o *Orchestrator) applyDepartments(
	tx *gorm.DB,
	task *models.TenantSyncTask,
	departments []models.SourceDepartment,
	rec *recorder.Recorder,
) error {
	var existing []models.TenantDepartment

	err := tx.
		Where("tenant_id = ? AND source_id = ?", task.TenantID, task.SourceID).
		Find(&existing).Error
	if err != nil {
		return err
	}

	existingBySourceDept := make(map[uint64]models.TenantDepartment, len(existing))
	for _, row := range existing {
		existingBySourceDept[row.SourceDepartmentID] = row
	}

	wanted := make(map[uint64]bool, len(departments))

	for _, dept := range departments {
		wanted[dept.ID] = true

		if _, ok := existingBySourceDept[dept.ID]; ok {
			continue
		}

		row := models.TenantDepartment{
			TenantID:           task.TenantID,
			SourceDepartmentID: dept.ID,
			SourceID:           task.SourceID,
		}
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return errCreate
		}

		rec.Record(recorder.OperationCreate, recorder.KindDepartment, dept.Name)
	}

	for _, row := range existing {
		if wanted[row.SourceDepartmentID] {
			continue
		}

		if errDelete := tx.Delete(&models.TenantDepartment{}, row.ID).Error; errDelete != nil {
			return errDelete
		}

		rec.Record(recorder.OperationDelete, recorder.KindDepartment, fmt.Sprintf("dept#%d", row.SourceDepartmentID))
	}

	return nil
}

// applyUsers reconciles the TenantUser rows for (tenant, source) against
// the in-scope canonical users. Deletes remove the projection only; the
// identifier record is retained so the identity can be restored verbatim.
func (o *Orchestrator) applyUsers(
	tx *gorm.DB,
	task *models.TenantSyncTask,
	source *models.DataSource,
	users []models.SourceUser,
	generator *identifier.Generator,
	extrasMapping map[string]string,
	rec *recorder.Recorder,
) error {
	var existing []models.TenantUser

	err := tx.
		Where("tenant_id = ? AND source_id = ?", task.TenantID, task.SourceID).
		Find(&existing).Error
	if err != nil {
		return err
	}

	existingBySourceUser := make(map[uint64]models.TenantUser, len(existing))
	for _, row := range existing {
		existingBySourceUser[row.SourceUserID] = row
	}

	collaboration := task.TenantID != source.TenantID
	wanted := make(map[uint64]bool, len(users))

	for _, user := range users {
		wanted[user.ID] = true

		extras, errExtras := projectedExtras(&user, collaboration, extrasMapping)
		if errExtras != nil {
			return errExtras
		}

		current, known := existingBySourceUser[user.ID]
		if !known {
			id, errID := generator.TenantUserID(user.Code, user.Username)
			if errID != nil {
				return errID
			}

			row := models.TenantUser{
				ID:           id,
				TenantID:     task.TenantID,
				SourceUserID: user.ID,
				SourceID:     task.SourceID,
			}
			if errSet := row.SetExtras(extras); errSet != nil {
				return errSet
			}

			if errCreate := tx.Create(&row).Error; errCreate != nil {
				return errCreate
			}

			rec.Record(recorder.OperationCreate, recorder.KindUser, user.Username)

			continue
		}

		currentExtras, errCurrent := current.ExtrasMap()
		if errCurrent != nil {
			return errCurrent
		}

		if !mapsEqual(currentExtras, extras) {
			if errSet := current.SetExtras(extras); errSet != nil {
				return errSet
			}

			if errSave := tx.Save(&current).Error; errSave != nil {
				return errSave
			}

			rec.Record(recorder.OperationUpdate, recorder.KindUser, user.Username)
		}
	}

	for _, row := range existing {
		if wanted[row.SourceUserID] {
			continue
		}

		if errDelete := tx.Delete(&models.TenantUser{}, "tenant_id = ? AND id = ?", row.TenantID, row.ID).Error; errDelete != nil {
			return errDelete
		}

		rec.Record(recorder.OperationDelete, recorder.KindUser, row.ID)
	}

	return nil
}

// projectedExtras computes the extras blob of a tenant user. Owner runs
// copy the canonical extras; collaboration runs rename keys per the
// strategy's field mapping and drop unlisted keys.
func projectedExtras(user *models.SourceUser, collaboration bool, mapping map[string]string) (map[string]string, error) {
	extras, err := user.ExtrasMap()
	if err != nil {
		return nil, err
	}

	if !collaboration {
		return extras, nil
	}

	if mapping == nil {
		return extras, nil
	}

	projected := make(map[string]string, len(mapping))

	for sourceKey, targetKey := range mapping {
		if value, ok := extras[sourceKey]; ok {
			projected[targetKey] = value
		}
	}

	return projected, nil
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}

	for key, value := range a {
		if b[key] != value {
			return false
		}
	}

	return true
}
