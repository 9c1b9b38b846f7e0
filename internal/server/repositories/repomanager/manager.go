package repomanager

import (
	"context"
	"database/sql"

	"github.com/revpass/passkeeper/internal/dbx"
	"github.com/revpass/passkeeper/internal/server/repositories/entries"
	"github.com/revpass/passkeeper/internal/server/repositories/otpcodes"
	"github.com/revpass/passkeeper/internal/server/repositories/questions"
	"github.com/revpass/passkeeper/internal/server/repositories/refreshtokens"
	"github.com/revpass/passkeeper/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX so services can run
// the same code against *sql.DB or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Entries(db dbx.DBTX) entries.Repository
	Questions(db dbx.DBTX) questions.Repository
	OneTimeCodes(db dbx.DBTX) otpcodes.Repository
}
