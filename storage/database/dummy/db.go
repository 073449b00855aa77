package dummydb

import (
	"sync"
	"time"

	"github.com/trezcool/mahudhurio/core/session"
	"github.com/trezcool/mahudhurio/core/user"
)

type (
	DB struct {
		session   *sessionTable
		directory *directoryTable
	}

	sessionTable struct {
		sync.RWMutex
		table       map[string]*session.Session
		submissions map[string][]submission // by session id
		logs        []session.NotificationLogEntry
	}

	submission struct {
		participantID string
		submittedAt   time.Time
		accepted      bool
	}

	directoryTable struct {
		sync.RWMutex
		users       map[string]*user.User
		groups      map[string]*session.SubjectGroup
		teachings   map[string][]string // instructor id -> subject group ids
		enrollments map[string][]string // subject group id -> user ids
	}
)

func Open() (*DB, error) {
	db := &DB{
		session: &sessionTable{
			table:       make(map[string]*session.Session),
			submissions: make(map[string][]submission),
		},
		directory: &directoryTable{
			users:       make(map[string]*user.User),
			groups:      make(map[string]*session.SubjectGroup),
			teachings:   make(map[string][]string),
			enrollments: make(map[string][]string),
		},
	}
	return db, nil
}
