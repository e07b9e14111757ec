package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/distr1/buildorch"
	"github.com/distr1/buildorch/internal/store"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func TestInsertGroup(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO groups`)).
		WithArgs("distri", "make", "x86_64-linux", "queued").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := s.InsertGroup(context.Background(), &store.Group{
		RootProject: buildorch.ShortIdent{Origin: "distri", Name: "make"},
		Target:      buildorch.TargetX8664Linux,
		State:       store.GroupQueued,
	})
	if err != nil {
		t.Fatalf("InsertGroup: %v", err)
	}
	if id != 7 {
		t.Fatalf("InsertGroup id = %d, want 7", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInsertGroupUniqueViolationTranslatesToConflict(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO groups`)).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	_, err := s.InsertGroup(context.Background(), &store.Group{
		RootProject: buildorch.ShortIdent{Origin: "distri", Name: "make"},
		Target:      buildorch.TargetX8664Linux,
		State:       store.GroupQueued,
	})
	if got := buildorch.KindOf(err); got != buildorch.KindConflict {
		t.Fatalf("KindOf(err) = %v, want Conflict", got)
	}
}

func TestGetGroupNotFoundTranslatesToNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM groups WHERE id = $1`)).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := s.GetGroup(context.Background(), 99)
	if got := buildorch.KindOf(err); got != buildorch.KindNotFound {
		t.Fatalf("KindOf(err) = %v, want NotFound", got)
	}
}

func TestTakeNextQueuedForTargetPromotesToDispatching(t *testing.T) {
	s, mock := newMock(t)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE SKIP LOCKED`)).
		WithArgs("x86_64-linux", "queued").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "root_origin", "root_name", "target", "state", "created_at", "updated_at",
		}).AddRow(int64(3), "distri", "make", "x86_64-linux", "queued", now, now))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE groups SET state = $1`)).
		WithArgs("dispatching", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	g, err := s.TakeNextQueuedForTarget(context.Background(), buildorch.TargetX8664Linux)
	if err != nil {
		t.Fatalf("TakeNextQueuedForTarget: %v", err)
	}
	if g == nil || g.State != store.GroupDispatching {
		t.Fatalf("TakeNextQueuedForTarget = %+v, want state dispatching", g)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestTakeNextQueuedForTargetEmptyIsNotAnError(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE SKIP LOCKED`)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "root_origin", "root_name", "target", "state", "created_at", "updated_at",
		}))
	mock.ExpectRollback()

	g, err := s.TakeNextQueuedForTarget(context.Background(), buildorch.TargetX8664Linux)
	if err != nil {
		t.Fatalf("TakeNextQueuedForTarget: %v", err)
	}
	if g != nil {
		t.Fatalf("TakeNextQueuedForTarget = %+v, want nil", g)
	}
}

func TestMarkEntryCompletePromotesZeroedRdeps(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE entries SET exec_state = $1, as_built_version`)).
		WithArgs("complete", "4.2.1", "1", int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`waiting_on_count = waiting_on_count - 1`)).
		WithArgs(int64(10), "waiting_on_dependency").
		WillReturnRows(sqlmock.NewRows([]string{"id", "waiting_on_count"}).
			AddRow(int64(11), 0).
			AddRow(int64(12), 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE entries SET exec_state = $1, updated_at = now() WHERE id = $2`)).
		WithArgs("ready", int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	promoted, err := s.MarkEntryComplete(context.Background(), 10, buildorch.Ident{
		Origin: "distri", Name: "make", Version: "4.2.1", Release: "1",
	})
	if err != nil {
		t.Fatalf("MarkEntryComplete: %v", err)
	}
	if len(promoted) != 1 || promoted[0] != 11 {
		t.Fatalf("MarkEntryComplete promoted = %v, want [11]", promoted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkEntryFailedPropagatesToRdeps(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE entries SET exec_state = $1, updated_at = now() WHERE id = $2`)).
		WithArgs("job_failed", int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`WITH RECURSIVE walk`)).
		WithArgs(int64(20)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(21)).AddRow(int64(22)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE entries SET exec_state = $1`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	affected, err := s.MarkEntryFailed(context.Background(), 20)
	if err != nil {
		t.Fatalf("MarkEntryFailed: %v", err)
	}
	if len(affected) != 2 {
		t.Fatalf("MarkEntryFailed affected = %v, want 2 entries", affected)
	}
}

func TestIsUniqueViolationRecognizesBothDriverShapes(t *testing.T) {
	if !isUniqueViolation(&pq.Error{Code: "23505"}) {
		t.Error("isUniqueViolation(pq.Error 23505) = false, want true")
	}
	if isUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Error("isUniqueViolation(pq.Error 23503) = true, want false")
	}
}
