package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"solarforecast.org/internal/auth"
)

const (
	orgID  = "7d1c6a0e-5f8b-4f43-9d7e-0a4c1b2e3f40"
	userID = "0b5a3f3e-2c1d-4e6f-8a9b-1c2d3e4f5a60"
	roleID = "9e8d7c6b-5a49-4382-b1a0-f9e8d7c6b5a4"
	siteID = "3a2b1c0d-9e8f-4a6b-8c4d-2e1f0a9b8c7d"
	permID = "5f4e3d2c-1b0a-4987-a6b5-c4d3e2f1a0b9"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestUpdateCommitsEdgeWrites(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`select pg_advisory_xact_lock`).WithArgs(grantIndexLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`insert into user_role_mapping`).WithArgs(userID, roleID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into user_role_mapping`).WithArgs(userID, roleID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var first, second bool
	err := s.Update(context.Background(), func(tx auth.Tx) error {
		ctx := context.Background()
		if err := tx.LockGrantIndex(ctx); err != nil {
			return err
		}
		var err error
		if first, err = tx.AddUserRole(ctx, userID, roleID); err != nil {
			return err
		}
		second, err = tx.AddUserRole(ctx, userID, roleID)
		return err
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !first || second {
		t.Fatalf("expected first insert to change a row and second not, got %v %v", first, second)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s, mock := newMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(`update organizations set accepted_terms_of_use`).WithArgs(orgID, true).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := s.Update(context.Background(), func(tx auth.Tx) error {
		if err := tx.SetTermsOfUse(context.Background(), orgID, true); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertRoleMapsUniqueViolation(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`insert into objects`).
		WithArgs(roleID, "roles", orgID, "auditors", nil, []byte(`{}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into roles`).
		WithArgs(roleID, orgID, "auditors", "", sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "roles_organization_id_name_key"})
	mock.ExpectRollback()

	err := s.Update(context.Background(), func(tx auth.Tx) error {
		return tx.InsertRole(context.Background(), auth.Role{ID: roleID, OrganizationID: orgID, Name: "auditors", CreatedAt: time.Now()})
	})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestDeleteObjectWithDependentsIsRestricted(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`delete from objects where id`).WithArgs(siteID).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "objects_parent_id_fkey"})
	mock.ExpectRollback()

	err := s.Update(context.Background(), func(tx auth.Tx) error {
		return tx.DeleteObject(context.Background(), siteID)
	})
	if !errors.Is(err, auth.ErrRestrict) {
		t.Fatalf("expected ErrRestrict, got %v", err)
	}
}

func TestDeleteMissingOrganizationIsNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`delete from organizations where id`).WithArgs(orgID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Update(context.Background(), func(tx auth.Tx) error {
		return tx.DeleteOrganization(context.Background(), orgID)
	})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetOrganizationNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`select id, name, accepted_terms_of_use, created_at from organizations where id`).
		WithArgs(orgID).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.View(context.Background(), func(r auth.Reader) error {
		_, err := r.GetOrganization(context.Background(), orgID)
		return err
	})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetObjectDecodesAttributes(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`from objects o where o.id`).WithArgs(siteID).WillReturnRows(
		sqlmock.NewRows([]string{"id", "object_type", "organization_id", "name", "parent_id", "attributes", "created_at"}).
			AddRow(siteID, "sites", orgID, "Ivanpah", nil, []byte(`{"latitude":35.55}`), created))
	mock.ExpectCommit()

	var got auth.Object
	err := s.View(context.Background(), func(r auth.Reader) error {
		var err error
		got, err = r.GetObject(context.Background(), siteID)
		return err
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if got.Type != auth.TypeSites || got.ParentID != "" || !got.CreatedAt.Equal(created) {
		t.Fatalf("unexpected object: %+v", got)
	}
	if lat, ok := got.Attributes["latitude"].(float64); !ok || lat != 35.55 {
		t.Fatalf("unexpected attributes: %v", got.Attributes)
	}
}

func TestFindGrant(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`select pom.permission_id`).WithArgs(userID, "read", siteID).
		WillReturnRows(sqlmock.NewRows([]string{"permission_id"}).AddRow(permID))
	mock.ExpectQuery(`select pom.permission_id`).WithArgs(userID, "delete", siteID).
		WillReturnRows(sqlmock.NewRows([]string{"permission_id"}))
	mock.ExpectCommit()

	err := s.View(context.Background(), func(r auth.Reader) error {
		ctx := context.Background()
		id, ok, err := r.FindGrant(ctx, userID, auth.ActionRead, siteID)
		if err != nil {
			return err
		}
		if !ok || id != permID {
			t.Fatalf("expected grant %s, got %q %v", permID, id, ok)
		}
		_, ok, err = r.FindGrant(ctx, userID, auth.ActionDelete, siteID)
		if err != nil {
			return err
		}
		if ok {
			t.Fatal("expected no delete grant")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCountDependents(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`select object_type, count`).WithArgs(siteID).WillReturnRows(
		sqlmock.NewRows([]string{"object_type", "count"}).
			AddRow("forecasts", int64(2)).
			AddRow("observations", int64(1)))
	mock.ExpectCommit()

	var got map[auth.ObjectType]int
	err := s.View(context.Background(), func(r auth.Reader) error {
		var err error
		got, err = r.CountDependents(context.Background(), siteID)
		return err
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if got[auth.TypeForecasts] != 2 || got[auth.TypeObservations] != 1 {
		t.Fatalf("unexpected counts: %v", got)
	}
}

func TestIndexPermissionReportsRows(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`insert into permission_object_mapping \(permission_id, object_id\)\s+select \$1::uuid, o.id`).
		WithArgs(permID, "sites", orgID).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	var n int64
	err := s.Update(context.Background(), func(tx auth.Tx) error {
		var err error
		n, err = tx.IndexPermission(context.Background(), permID, auth.TypeSites, orgID)
		return err
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
}

func TestPingWithoutDatabase(t *testing.T) {
	var s Store
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("expected error for nil database")
	}
}
