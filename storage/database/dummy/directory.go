package dummydb

import (
	"context"

	"github.com/trezcool/mahudhurio/core/session"
	"github.com/trezcool/mahudhurio/core/user"
)

type DirectoryRepository struct {
	db *directoryTable

	// FailRecipients makes the next n ListRecipients calls fail; recipient
	// resolution failures must not fail session creation.
	FailRecipients int
}

var _ session.Directory = (*DirectoryRepository)(nil) // interface compliance check

func NewDirectoryRepository(db *DB) *DirectoryRepository {
	return &DirectoryRepository{db: db.directory}
}

func (repo *DirectoryRepository) GetSubjectGroup(ctx context.Context, id string) (session.SubjectGroup, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if grp, ok := repo.db.groups[id]; ok {
		return *grp, nil
	}
	return session.SubjectGroup{}, session.ErrSubjectGroupNotFound
}

func (repo *DirectoryRepository) ListSubjectGroupsByOwner(ctx context.Context, ownerID string) ([]session.SubjectGroup, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	groups := make([]session.SubjectGroup, 0)
	for _, id := range repo.db.teachings[ownerID] {
		if grp, ok := repo.db.groups[id]; ok {
			groups = append(groups, *grp)
		}
	}
	return groups, nil
}

func (repo *DirectoryRepository) ListRecipients(ctx context.Context, subjectGroupID string) ([]session.Recipient, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.FailRecipients > 0 {
		repo.FailRecipients--
		return nil, session.ErrStoreUnavailable
	}

	recipients := make([]session.Recipient, 0)
	for _, userID := range repo.db.enrollments[subjectGroupID] {
		usr, ok := repo.db.users[userID]
		if !ok || usr.PushToken == "" {
			continue
		}
		if usr.IsActive != nil && !*usr.IsActive {
			continue
		}
		recipients = append(recipients, session.Recipient{
			UserID:    usr.ID,
			Name:      usr.Name,
			PushToken: usr.PushToken,
		})
	}
	return recipients, nil
}

func (repo *DirectoryRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.users {
		if existing.Email == usr.Email {
			return user.User{}, user.ErrEmailExists
		}
	}
	repo.db.users[usr.ID] = &usr
	return usr, nil
}

func (repo *DirectoryRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, usr := range repo.db.users {
		if usr.Email == email {
			return *usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *DirectoryRepository) EnrollUser(ctx context.Context, userID, subjectGroupID string) error {
	repo.Enroll(userID, subjectGroupID)
	return nil
}

// AddSubjectGroup and Enroll seed directory fixtures for tests.

func (repo *DirectoryRepository) AddSubjectGroup(grp session.SubjectGroup, instructorID string) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.groups[grp.ID] = &grp
	if instructorID != "" {
		repo.db.teachings[instructorID] = append(repo.db.teachings[instructorID], grp.ID)
	}
}

func (repo *DirectoryRepository) Enroll(userID, subjectGroupID string) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.enrollments[subjectGroupID] = append(repo.db.enrollments[subjectGroupID], userID)
}
