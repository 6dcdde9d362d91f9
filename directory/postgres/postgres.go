// Package postgres is a directory.Directory backed by PostgreSQL through
// pgx. The schema ships as embedded migrations; see Migrator.
package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/glidauth/directory"
)

const domain = "directory.postgres"

// poolIface is the subset of pgxpool.Pool the directory uses, so pgxmock
// can stand in for it.
type poolIface interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Directory implements directory.Directory on PostgreSQL.
type Directory struct {
	pool poolIface
}

var _ directory.Directory = (*Directory)(nil)

// New wraps an existing pool.
func New(pool poolIface) *Directory {
	return &Directory{pool: pool}
}

// Open connects a pool to dsn and pings it.
func Open(ctx context.Context, dsn string) (*Directory, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, directory.Unavailable(domain, "connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, directory.Unavailable(domain, "ping", err)
	}
	return New(pool), pool, nil
}

const masterColumns = `guid, glid, name, password_hash, primary_email, primary_phone, dial_code, location`

func scanMaster(row pgx.Row) (*directory.MasterUser, error) {
	var m directory.MasterUser
	err := row.Scan(&m.GUID, &m.GLID, &m.Name, &m.PasswordHash, &m.PrimaryEmail, &m.PrimaryPhone, &m.DialCode, &m.Location)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (d *Directory) MasterByGLID(ctx context.Context, glid string) (*directory.MasterUser, error) {
	m, err := scanMaster(d.pool.QueryRow(ctx,
		`SELECT `+masterColumns+` FROM master_users WHERE glid = $1`, directory.NormalizeGLID(glid)))
	if err != nil {
		return nil, directory.Unavailable(domain, "master by glid", err)
	}
	return m, nil
}

func (d *Directory) MasterByGUID(ctx context.Context, guid string) (*directory.MasterUser, error) {
	m, err := scanMaster(d.pool.QueryRow(ctx,
		`SELECT `+masterColumns+` FROM master_users WHERE guid = $1`, guid))
	if err != nil {
		return nil, directory.Unavailable(domain, "master by guid", err)
	}
	return m, nil
}

func (d *Directory) MasterByContact(ctx context.Context, kind directory.ContactKind, value string) (*directory.MasterUser, error) {
	column := "primary_email"
	if kind == directory.ContactPhone {
		column = "primary_phone"
	}
	m, err := scanMaster(d.pool.QueryRow(ctx,
		`SELECT `+masterColumns+` FROM master_users WHERE `+column+` = $1 LIMIT 1`,
		directory.NormalizeContact(kind, value)))
	if err != nil {
		return nil, directory.Unavailable(domain, "master by contact", err)
	}
	return m, nil
}

func (d *Directory) Profile(ctx context.Context, glid, location string) (*directory.Profile, error) {
	var p directory.Profile
	err := d.pool.QueryRow(ctx,
		`SELECT guid, glid, name, location, language, hour_format, time_zone
		 FROM profiles WHERE glid = $1 AND location = $2`,
		directory.NormalizeGLID(glid), location,
	).Scan(&p.GUID, &p.GLID, &p.Name, &p.Location, &p.Preference.Language, &p.Preference.HourFormat, &p.Preference.TimeZone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, directory.Unavailable(domain, "profile", err)
	}

	rows, err := d.pool.Query(ctx,
		`SELECT kind, value, dial_code, verified, is_primary, auth_enabled
		 FROM contacts WHERE profile_guid = $1 ORDER BY position`, p.GUID)
	if err != nil {
		return nil, directory.Unavailable(domain, "profile contacts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c directory.Contact
		var kind string
		if err := rows.Scan(&kind, &c.Value, &c.DialCode, &c.Verified, &c.Primary, &c.AuthEnabled); err != nil {
			return nil, directory.Unavailable(domain, "scan contact", err)
		}
		c.Kind = directory.ContactKind(kind)
		p.Contacts = append(p.Contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, directory.Unavailable(domain, "iterate contacts", err)
	}
	return &p, nil
}

func (d *Directory) SetPasswordHash(ctx context.Context, guid, hash string) error {
	tag, err := d.pool.Exec(ctx,
		`UPDATE master_users SET password_hash = $2, updated_at = now() WHERE guid = $1`, guid, hash)
	if err != nil {
		return directory.Unavailable(domain, "set password hash", err)
	}
	if tag.RowsAffected() == 0 {
		return directory.ErrNotFound
	}
	return nil
}

// CreateUser inserts the master record, its first profile and the profile's
// contacts in one transaction. A taken GLID yields directory.ErrDuplicate.
func (d *Directory) CreateUser(ctx context.Context, user directory.NewUser) (*directory.MasterUser, error) {
	guid := uuid.NewString()
	master := directory.MasterFor(guid, user)
	profile := directory.ProfileFor(guid, user)

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, directory.Unavailable(domain, "begin create user", err)
	}

	if err := insertUser(ctx, tx, master, profile); err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // insert error takes precedence
		if isUniqueViolation(err) {
			return nil, directory.ErrDuplicate
		}
		return nil, directory.Unavailable(domain, "create user", err)
	}
	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, directory.ErrDuplicate
		}
		return nil, directory.Unavailable(domain, "commit create user", err)
	}
	return master, nil
}

func insertUser(ctx context.Context, tx pgx.Tx, m *directory.MasterUser, p *directory.Profile) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO master_users (guid, glid, name, password_hash, primary_email, primary_phone, dial_code, location)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.GUID, m.GLID, m.Name, m.PasswordHash, m.PrimaryEmail, m.PrimaryPhone, m.DialCode, m.Location,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO profiles (guid, glid, location, name, language, hour_format, time_zone)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.GUID, p.GLID, p.Location, p.Name, p.Preference.Language, p.Preference.HourFormat, p.Preference.TimeZone,
	); err != nil {
		return err
	}

	for i, c := range p.Contacts {
		if _, err := tx.Exec(ctx,
			`INSERT INTO contacts (profile_guid, position, kind, value, dial_code, verified, is_primary, auth_enabled)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.GUID, i, string(c.Kind), c.Value, c.DialCode, c.Verified, c.Primary, c.AuthEnabled,
		); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
