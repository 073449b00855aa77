package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core/session"
	"github.com/trezcool/mahudhurio/core/user"
)

type userRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Email        string         `db:"email"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PushToken    string         `db:"push_token"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r userRow) toUser() user.User {
	isActive := r.IsActive
	return user.User{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		IsActive:     &isActive,
		Roles:        r.Roles,
		PushToken:    r.PushToken,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

// directoryRepository is the store of users, subject groups and enrollment
// mappings the session engine resolves recipients from.
type directoryRepository struct {
	db *sqlx.DB
}

var _ session.Directory = (*directoryRepository)(nil)

func NewDirectoryRepository(db *sqlx.DB) *directoryRepository {
	return &directoryRepository{db: db}
}

func (repo *directoryRepository) GetSubjectGroup(ctx context.Context, id string) (session.SubjectGroup, error) {
	var grp session.SubjectGroup
	err := repo.db.QueryRowxContext(ctx,
		`SELECT id, subject_name, group_name, semester FROM subject_group WHERE id = $1`, id,
	).Scan(&grp.ID, &grp.SubjectName, &grp.GroupName, &grp.Semester)
	if err != nil {
		if err == sql.ErrNoRows {
			return session.SubjectGroup{}, session.ErrSubjectGroupNotFound
		}
		return session.SubjectGroup{}, errors.Wrap(err, "querying subject group")
	}
	return grp, nil
}

func (repo *directoryRepository) ListSubjectGroupsByOwner(ctx context.Context, ownerID string) ([]session.SubjectGroup, error) {
	rows, err := repo.db.QueryxContext(ctx,
		`SELECT sg.id, sg.subject_name, sg.group_name, sg.semester
		 FROM subject_group sg
		 JOIN teaching t ON t.subject_group_id = sg.id
		 WHERE t.instructor_id = $1
		 ORDER BY sg.subject_name`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "querying subject groups")
	}
	defer func() { _ = rows.Close() }()

	groups := make([]session.SubjectGroup, 0)
	for rows.Next() {
		var grp session.SubjectGroup
		if err = rows.Scan(&grp.ID, &grp.SubjectName, &grp.GroupName, &grp.Semester); err != nil {
			return nil, errors.Wrap(err, "scanning subject group")
		}
		groups = append(groups, grp)
	}
	return groups, errors.Wrap(rows.Err(), "querying subject groups")
}

// ListRecipients returns the active enrolled participants of a subject
// group that have a push address on file. Address format is not checked
// here; the dispatcher filters malformed ones.
func (repo *directoryRepository) ListRecipients(ctx context.Context, subjectGroupID string) ([]session.Recipient, error) {
	rows, err := repo.db.QueryxContext(ctx,
		`SELECT u.id, u.name, u.push_token
		 FROM "user" u
		 JOIN enrollment e ON e.user_id = u.id
		 WHERE e.subject_group_id = $1 AND u.is_active AND u.push_token <> ''`, subjectGroupID)
	if err != nil {
		return nil, errors.Wrap(err, "querying recipients")
	}
	defer func() { _ = rows.Close() }()

	recipients := make([]session.Recipient, 0)
	for rows.Next() {
		var r session.Recipient
		if err = rows.Scan(&r.UserID, &r.Name, &r.PushToken); err != nil {
			return nil, errors.Wrap(err, "scanning recipient")
		}
		recipients = append(recipients, r)
	}
	return recipients, errors.Wrap(rows.Err(), "querying recipients")
}

func (repo *directoryRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	isActive := true
	if usr.IsActive != nil {
		isActive = *usr.IsActive
	}
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO "user" (id, name, email, is_active, roles, push_token, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		usr.ID, usr.Name, usr.Email, isActive, pq.Array(usr.Roles),
		usr.PushToken, usr.PasswordHash, usr.CreatedAt, usr.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *directoryRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var row userRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM "user" WHERE email = $1`, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "querying user")
	}
	return row.toUser(), nil
}

func (repo *directoryRepository) EnrollUser(ctx context.Context, userID, subjectGroupID string) error {
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO enrollment (user_id, subject_group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, subjectGroupID)
	return errors.Wrap(err, "inserting enrollment")
}
