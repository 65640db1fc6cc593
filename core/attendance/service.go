package attendance

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/class"
)

var (
	// errors
	ErrNotFound    = errors.New("attendance record not found")
	ErrNotEnrolled = errors.New("student is not enrolled in this class")
)

const cacheName = "attendance"

// CacheKey is the key of the records cached for a teacher.
func CacheKey(teacherID string) string {
	return "attendance:teacher:" + teacherID
}

type (
	Repository interface {
		// UpsertRecord creates the record or updates the one of the same (class, student, date).
		UpsertRecord(ctx context.Context, r Record) (Record, error)
		GetRecord(ctx context.Context, id string) (Record, error)
		UpdateRecord(ctx context.Context, r Record) (Record, error)
		DeleteRecord(ctx context.Context, id string) error
		// QueryRecords returns records ordered by date, most recent first.
		QueryRecords(ctx context.Context, filter Filter) ([]Record, error)
	}

	Classes interface {
		GetClass(ctx context.Context, id string) (class.Class, error)
		QueryEnrollments(ctx context.Context, filter class.EnrollmentFilter) ([]class.Enrollment, error)
	}

	Service interface {
		// List returns the records of a teacher, served from the cache when live.
		List(ctx context.Context, teacherID string) ([]Record, error)
		Get(ctx context.Context, id string) (Record, error)
		Mark(ctx context.Context, nr NewRecord) (Record, error)
		MarkBulk(ctx context.Context, bm BulkMark) ([]Record, error)
		Update(ctx context.Context, id string, ur UpdateRecord) (Record, error)
		Delete(ctx context.Context, id string) error
		Query(ctx context.Context, filter Filter) ([]Record, error)
		Summary(ctx context.Context, filter Filter) (Summary, error)
		// Export writes the records matching filter as an Excel workbook.
		Export(ctx context.Context, filter Filter, w io.Writer) error
	}

	service struct {
		repo    Repository
		classes Classes
		cache   core.Cache
		conf    *core.Config
		metrics core.Metrics
		logger  core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	classes Classes,
	cache core.Cache,
	conf *core.Config,
	metrics core.Metrics,
	logger core.Logger,
) Service {
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	return &service{repo: repo, classes: classes, cache: cache, conf: conf, metrics: metrics, logger: logger}
}

func (svc *service) List(ctx context.Context, teacherID string) ([]Record, error) {
	key := CacheKey(teacherID)

	var records []Record
	found, err := svc.cache.Get(ctx, key, &records)
	if err != nil {
		svc.logger.Warn("reading attendance cache", err)
	}
	svc.metrics.CacheLookup(cacheName, found)
	if found {
		return records, nil
	}

	records, err = svc.repo.QueryRecords(ctx, Filter{TeacherID: teacherID})
	if err != nil {
		return nil, errors.Wrap(err, "querying attendance records")
	}
	if err = svc.cache.Set(ctx, key, records, svc.conf.Cache.AttendanceTTL); err != nil {
		svc.logger.Warn("writing attendance cache", err)
	}
	return records, nil
}

func (svc *service) Get(ctx context.Context, id string) (Record, error) {
	if id == "" {
		return Record{}, ErrNotFound
	}
	return svc.repo.GetRecord(ctx, id)
}

func (svc *service) Mark(ctx context.Context, nr NewRecord) (Record, error) {
	cls, err := svc.classes.GetClass(ctx, nr.ClassID)
	if err != nil {
		return Record{}, err
	}
	if err = svc.checkEnrolled(ctx, cls.ID, nr.StudentID); err != nil {
		return Record{}, err
	}
	return svc.mark(ctx, cls, nr)
}

func (svc *service) mark(ctx context.Context, cls class.Class, nr NewRecord) (Record, error) {
	teacherID := cls.TeacherID
	if teacherID == "" {
		teacherID = nr.MarkedBy
	}

	now := core.NowFunc()
	rec, err := svc.repo.UpsertRecord(ctx, Record{
		ClassID:   cls.ID,
		StudentID: nr.StudentID,
		TeacherID: teacherID,
		BranchID:  cls.BranchID,
		Date:      core.Day(nr.Date.Time),
		Status:    nr.Status,
		Notes:     nr.Notes,
		MarkedAt:  now,
		UpdatedAt: now,
	})
	if err != nil {
		return Record{}, errors.Wrap(err, "saving attendance record")
	}
	svc.patchCache(ctx, rec)
	return rec, nil
}

// markable reports whether attendance may be recorded for an enrollment of the given status.
func markable(status string) bool {
	return status != class.EnrollmentDropped
}

func (svc *service) checkEnrolled(ctx context.Context, classID, studentID string) error {
	enrs, err := svc.classes.QueryEnrollments(ctx, class.EnrollmentFilter{ClassID: classID, StudentID: studentID})
	if err != nil {
		return errors.Wrap(err, "querying enrollments")
	}
	for _, enr := range enrs {
		if markable(enr.Status) {
			return nil
		}
	}
	return ErrNotEnrolled
}

func (svc *service) MarkBulk(ctx context.Context, bm BulkMark) ([]Record, error) {
	cls, err := svc.classes.GetClass(ctx, bm.ClassID)
	if err != nil {
		return nil, err
	}
	enrs, err := svc.classes.QueryEnrollments(ctx, class.EnrollmentFilter{ClassID: cls.ID})
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}

	enrolled := make(map[string]bool, len(enrs)) // {studentID: active}
	for _, enr := range enrs {
		if markable(enr.Status) {
			enrolled[enr.StudentID] = enrolled[enr.StudentID] || enr.Status == class.EnrollmentActive
		}
	}
	roster := make([]string, 0, len(enrolled))
	for studentID, active := range enrolled {
		if active {
			roster = append(roster, studentID)
		}
	}

	entries := make(map[string]BulkEntry, len(bm.Entries))
	for i, entry := range bm.Entries {
		if _, ok := enrolled[entry.StudentID]; !ok {
			return nil, core.NewValidationError(ErrNotEnrolled, core.FieldError{
				Field: fmt.Sprintf("entries[%d].student_id", i),
				Error: ErrNotEnrolled.Error(),
			})
		}
		entries[entry.StudentID] = entry
	}
	if bm.DefaultStatus != "" {
		for _, studentID := range roster {
			if _, ok := entries[studentID]; !ok {
				entries[studentID] = BulkEntry{StudentID: studentID, Status: bm.DefaultStatus}
			}
		}
	}

	studentIDs := make([]string, 0, len(entries))
	for id := range entries {
		studentIDs = append(studentIDs, id)
	}
	sort.Strings(studentIDs)

	records := make([]Record, 0, len(entries))
	for _, id := range studentIDs {
		entry := entries[id]
		rec, err := svc.mark(ctx, cls, NewRecord{
			ClassID:   cls.ID,
			StudentID: entry.StudentID,
			Date:      bm.Date,
			Status:    entry.Status,
			Notes:     core.CleanString(entry.Notes),
			MarkedBy:  bm.MarkedBy,
		})
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (svc *service) Update(ctx context.Context, id string, ur UpdateRecord) (Record, error) {
	rec, err := svc.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if ur.Status != nil {
		rec.Status = *ur.Status
	}
	if ur.Notes != nil {
		rec.Notes = *ur.Notes
	}
	rec.UpdatedAt = core.NowFunc()

	rec, err = svc.repo.UpdateRecord(ctx, rec)
	if err != nil {
		return Record{}, errors.Wrap(err, "updating attendance record")
	}
	svc.patchCache(ctx, rec)
	return rec, nil
}

func (svc *service) Delete(ctx context.Context, id string) error {
	rec, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}
	if err = svc.repo.DeleteRecord(ctx, rec.ID); err != nil {
		return errors.Wrap(err, "deleting attendance record")
	}

	key := CacheKey(rec.TeacherID)
	if err = core.RemoveFromCachedList(ctx, svc.cache, key, rec.ID, recordID); err != nil {
		svc.dropCache(ctx, key, err)
	}
	return nil
}

func (svc *service) Query(ctx context.Context, filter Filter) ([]Record, error) {
	return svc.repo.QueryRecords(ctx, filter)
}

func (svc *service) Summary(ctx context.Context, filter Filter) (Summary, error) {
	records, err := svc.repo.QueryRecords(ctx, filter)
	if err != nil {
		return Summary{}, errors.Wrap(err, "querying attendance records")
	}
	return Summarize(records), nil
}

func (svc *service) Export(ctx context.Context, filter Filter, w io.Writer) error {
	records, err := svc.repo.QueryRecords(ctx, filter)
	if err != nil {
		return errors.Wrap(err, "querying attendance records")
	}

	f := excelize.NewFile()
	//goland:noinspection GoUnhandledErrorResult
	defer f.Close()

	sheet := "Attendance"
	if err = f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return errors.Wrap(err, "naming sheet")
	}
	header := []interface{}{"Date", "Class", "Student", "Teacher", "Branch", "Status", "Notes", "Marked At"}
	if err = f.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.Wrap(err, "writing header")
	}
	for i, rec := range records {
		row := []interface{}{
			rec.Date.Format(core.DateLayout),
			rec.ClassID,
			rec.StudentID,
			rec.TeacherID,
			rec.BranchID,
			rec.Status,
			rec.Notes,
			rec.MarkedAt.Format("2006-01-02 15:04:05"),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err = f.SetSheetRow(sheet, cell, &row); err != nil {
			return errors.Wrapf(err, "writing row %d", i+2)
		}
	}
	return errors.Wrap(f.Write(w), "writing workbook")
}

// patchCache reflects a saved record in the cached list of its teacher, if live.
func (svc *service) patchCache(ctx context.Context, rec Record) {
	key := CacheKey(rec.TeacherID)
	if err := core.PatchCachedList(ctx, svc.cache, key, rec, recordID); err != nil {
		svc.dropCache(ctx, key, err)
	}
}

// dropCache evicts a key that could not be patched, so that it gets refetched.
func (svc *service) dropCache(ctx context.Context, key string, cause error) {
	svc.logger.Warn("patching attendance cache", cause, map[string]interface{}{"key": key})
	if err := svc.cache.Delete(ctx, key); err != nil {
		svc.logger.Error("evicting attendance cache", err, map[string]interface{}{"key": key})
	}
}
