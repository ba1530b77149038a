// Package dummydb holds in-memory repositories, used by tests and local demos.
package dummydb

import (
	"sync"

	"github.com/trezcool/lingua/core/billing"
	"github.com/trezcool/lingua/core/classes"
	"github.com/trezcool/lingua/core/material"
	"github.com/trezcool/lingua/core/placement"
	"github.com/trezcool/lingua/core/student"
	"github.com/trezcool/lingua/core/user"
)

// DB is guarded by a single lock so that repository calls spanning several tables are atomic,
// the way a transaction is in the SQL repositories.
type DB struct {
	sync.RWMutex

	users       map[string]*user.User
	profiles    map[string]*student.Profile
	tests       map[string]*placement.Test
	results     map[string]*placement.Result
	payments    map[string]*billing.Payment
	paymentSeq  map[string]int // insertion order, breaks ties between payments created at the same instant
	sessions    map[string]*classes.Session
	enrollments map[string]*classes.Enrollment
	materials   map[string]*material.Material
}

func Open() *DB {
	return &DB{
		users:       make(map[string]*user.User),
		profiles:    make(map[string]*student.Profile),
		tests:       make(map[string]*placement.Test),
		results:     make(map[string]*placement.Result),
		payments:    make(map[string]*billing.Payment),
		paymentSeq:  make(map[string]int),
		sessions:    make(map[string]*classes.Session),
		enrollments: make(map[string]*classes.Enrollment),
		materials:   make(map[string]*material.Material),
	}
}
