// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package domain

import (
	"sync"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	"github.com/juju/healthmigration/core/database"
)

// StateBase defines a base struct for requesting a database. This will
// cache the database for the lifetime of the state, along with the prepared
// statements.
type StateBase struct {
	mu    sync.Mutex
	getDB database.TxnRunnerFactory
	db    database.TxnRunner

	stmtMutex sync.RWMutex
	stmts     map[string]*sqlair.Statement
}

// NewStateBase returns a new StateBase.
func NewStateBase(getDB database.TxnRunnerFactory) *StateBase {
	return &StateBase{
		getDB: getDB,
		stmts: make(map[string]*sqlair.Statement),
	}
}

// DB returns the database for a given namespace.
func (st *StateBase) DB() (database.TxnRunner, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.getDB == nil {
		return nil, errors.New("nil getDB")
	}
	if st.db != nil {
		return st.db, nil
	}

	var err error
	if st.db, err = st.getDB(); err != nil {
		return nil, errors.Annotate(err, "invoking getDB")
	}
	return st.db, nil
}

// Prepare prepares a SQLair query. If the query has been prepared
// previously it is retrieved from the statement cache.
//
// Note that because the type samples are not considered when retrieving a
// query from the cache, it is an error to prepare two identical queries
// with different type samples in a single state struct.
func (st *StateBase) Prepare(query string, typeSamples ...any) (*sqlair.Statement, error) {
	st.stmtMutex.RLock()
	stmt, ok := st.stmts[query]
	st.stmtMutex.RUnlock()
	if ok {
		return stmt, nil
	}

	st.stmtMutex.Lock()
	defer st.stmtMutex.Unlock()

	if stmt, ok := st.stmts[query]; ok {
		return stmt, nil
	}

	stmt, err := sqlair.Prepare(query, typeSamples...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	st.stmts[query] = stmt
	return stmt, nil
}
