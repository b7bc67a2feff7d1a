package dbpool

import (
	"context"
	"database/sql"
	"errors"
)

// ErrUserExists is returned by Register when the username is already
// taken.
var ErrUserExists = errors.New("dbpool: username already registered")

// LoginVerify reports whether username/password match a row in the user
// table. The username is passed as a bound parameter, never
// interpolated into the query text.
func (p *Pool) LoginVerify(ctx context.Context, username, password string) (bool, error) {
	if username == "" {
		return false, nil
	}

	conn, release, err := p.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	var storedPassword string
	row := conn.QueryRowContext(ctx, "SELECT password FROM user WHERE username = ? LIMIT 1", username)
	if err := row.Scan(&storedPassword); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return storedPassword == password, nil
}

// Register inserts a new user row, bound the same way LoginVerify reads
// one. It returns ErrUserExists if the username is already taken.
func (p *Pool) Register(ctx context.Context, username, password string) error {
	conn, release, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	var exists int
	row := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM user WHERE username = ?", username)
	if err := row.Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return ErrUserExists
	}

	_, err = conn.ExecContext(ctx, "INSERT INTO user(username, password) VALUES (?, ?)", username, password)
	return err
}
