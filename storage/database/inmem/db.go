package inmemdb

import (
	"sync"

	"github.com/trezcool/doubtbuddy/core/doubt"
	"github.com/trezcool/doubtbuddy/core/user"
)

type (
	// DB is a process-local store used by tests and by DEV runs without Postgres.
	DB struct {
		user     *userTable
		question *questionTable
		comment  *commentTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	questionTable struct {
		sync.RWMutex
		table map[string]*doubt.Question
	}

	commentTable struct {
		sync.RWMutex
		table map[string][]doubt.Comment // {questionID: comments}
	}
)

func Open() *DB {
	return &DB{
		user:     &userTable{table: make(map[string]*user.User)},
		question: &questionTable{table: make(map[string]*doubt.Question)},
		comment:  &commentTable{table: make(map[string][]doubt.Comment)},
	}
}

// Reset drops every row.
func (db *DB) Reset() {
	db.user.Lock()
	db.user.table = make(map[string]*user.User)
	db.user.Unlock()

	db.question.Lock()
	db.question.table = make(map[string]*doubt.Question)
	db.question.Unlock()

	db.comment.Lock()
	db.comment.table = make(map[string][]doubt.Comment)
	db.comment.Unlock()
}
