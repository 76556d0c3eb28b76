package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ksti/meeting-room/internal/persistence"
	"github.com/ksti/meeting-room/internal/persistence/sqlstore/dialect"
	"github.com/ksti/meeting-room/internal/session"
)

type sessionStore struct{ s *Store }

// WithinUser runs fn in a transaction holding the write lock on the user row,
// which serialises logins and refreshes of one user.
func (ss sessionStore) WithinUser(ctx context.Context, userID string, fn func(tx session.Tx) error) error {
	return ss.s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, ss.s.dialect.LockRow("users"), userID); err != nil {
			return fmt.Errorf("lock user %s: %w", userID, ss.s.mapper.MapError(err))
		}
		return fn(sessionTx{s: ss.s, q: tx})
	})
}

func (ss sessionStore) Within(ctx context.Context, fn func(tx session.Tx) error) error {
	return ss.s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(sessionTx{s: ss.s, q: tx})
	})
}

type sessionTx struct {
	s *Store
	q querier
}

const (
	deviceColumns     = `id, user_id, identifier, name, platform, os, os_version, status, credential_id, created_at, last_activity_at`
	credentialColumns = `id, user_id, device_id, access_token, refresh_token, issued_at, access_expires_at, refresh_expires_at, revoked_at`
)

func (tx sessionTx) FindDevice(ctx context.Context, userID, identifier string) (*session.Device, error) {
	query := tx.s.rebind(`SELECT ` + deviceColumns + ` FROM devices WHERE user_id = ? AND identifier = ?`)
	return tx.getDevice(ctx, query, userID, identifier)
}

func (tx sessionTx) GetDevice(ctx context.Context, deviceID string) (*session.Device, error) {
	query := tx.s.rebind(`SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`)
	return tx.getDevice(ctx, query, deviceID)
}

func (tx sessionTx) getDevice(ctx context.Context, query string, args ...any) (*session.Device, error) {
	r, err := scanDevice(tx.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, tx.s.mapper.MapError(err)
	}
	return session.RestoreDevice(r), nil
}

func (tx sessionTx) ListDevices(ctx context.Context, userID string) ([]*session.Device, error) {
	query := tx.s.rebind(`SELECT ` + deviceColumns + ` FROM devices WHERE user_id = ? ORDER BY created_at ASC, id ASC`)
	rows, err := tx.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, tx.s.mapper.MapError(err)
	}
	defer rows.Close()

	var devices []*session.Device
	for rows.Next() {
		r, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, session.RestoreDevice(r))
	}
	if err := rows.Err(); err != nil {
		return nil, tx.s.mapper.MapError(err)
	}
	return devices, nil
}

func (tx sessionTx) SaveDevice(ctx context.Context, device *session.Device) error {
	d := tx.s.dialect
	r := device.Record()
	query := tx.s.rebind(`
		INSERT INTO devices (` + deviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			platform = excluded.platform,
			os = excluded.os,
			os_version = excluded.os_version,
			status = excluded.status,
			credential_id = excluded.credential_id,
			last_activity_at = excluded.last_activity_at`)
	_, err := tx.q.ExecContext(ctx, query,
		r.ID,
		r.UserID,
		r.Identifier,
		r.Name,
		r.Platform,
		r.OS,
		r.OSVersion,
		string(r.Status),
		r.CredentialID,
		d.Time(r.CreatedAt),
		d.Time(r.LastActivityAt),
	)
	return tx.s.mapper.MapError(err)
}

func (tx sessionTx) DeleteDevice(ctx context.Context, deviceID string) error {
	res, err := tx.q.ExecContext(ctx, tx.s.rebind(`DELETE FROM devices WHERE id = ?`), deviceID)
	if err != nil {
		return tx.s.mapper.MapError(err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (tx sessionTx) GetCredential(ctx context.Context, id string) (session.Credential, error) {
	return tx.getCredential(ctx, `id = ?`, id)
}

func (tx sessionTx) FindByAccessToken(ctx context.Context, token string) (session.Credential, error) {
	return tx.getCredential(ctx, `access_token = ?`, token)
}

func (tx sessionTx) FindByRefreshToken(ctx context.Context, token string) (session.Credential, error) {
	return tx.getCredential(ctx, `refresh_token = ?`, token)
}

func (tx sessionTx) getCredential(ctx context.Context, where string, arg any) (session.Credential, error) {
	query := tx.s.rebind(`SELECT ` + credentialColumns + ` FROM credentials WHERE ` + where)
	r, err := scanCredential(tx.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		return session.Credential{}, tx.s.mapper.MapError(err)
	}
	return session.RestoreCredential(r), nil
}

func (tx sessionTx) ListLiveCredentials(ctx context.Context, userID string) ([]session.Credential, error) {
	query := tx.s.rebind(`SELECT ` + credentialColumns + ` FROM credentials WHERE user_id = ? AND revoked_at IS NULL ORDER BY id ASC`)
	rows, err := tx.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, tx.s.mapper.MapError(err)
	}
	defer rows.Close()

	var creds []session.Credential
	for rows.Next() {
		r, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, session.RestoreCredential(r))
	}
	if err := rows.Err(); err != nil {
		return nil, tx.s.mapper.MapError(err)
	}
	return creds, nil
}

// SaveCredential upserts a credential. Only the revocation mark changes after
// issue.
func (tx sessionTx) SaveCredential(ctx context.Context, credential session.Credential) error {
	d := tx.s.dialect
	r := credential.Record()
	query := tx.s.rebind(`
		INSERT INTO credentials (` + credentialColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET revoked_at = excluded.revoked_at`)
	_, err := tx.q.ExecContext(ctx, query,
		r.ID,
		r.UserID,
		r.DeviceID,
		r.AccessToken,
		r.RefreshToken,
		d.Time(r.IssuedAt),
		d.Time(r.AccessExpiresAt),
		d.Time(r.RefreshExpiresAt),
		d.NullTime(r.RevokedAt),
	)
	return tx.s.mapper.MapError(err)
}

func scanDevice(row rowScanner) (session.DeviceRecord, error) {
	var (
		r                     session.DeviceRecord
		status                string
		createdAt, lastActive dialect.Timestamp
	)
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.Identifier,
		&r.Name,
		&r.Platform,
		&r.OS,
		&r.OSVersion,
		&status,
		&r.CredentialID,
		&createdAt,
		&lastActive,
	)
	if err != nil {
		return session.DeviceRecord{}, err
	}
	r.Status = session.DeviceStatus(status)
	r.CreatedAt = createdAt.Time
	r.LastActivityAt = lastActive.Time
	return r, nil
}

func scanCredential(row rowScanner) (session.CredentialRecord, error) {
	var (
		r                                             session.CredentialRecord
		issuedAt, accessExp, refreshExp, revokedAt dialect.Timestamp
	)
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.DeviceID,
		&r.AccessToken,
		&r.RefreshToken,
		&issuedAt,
		&accessExp,
		&refreshExp,
		&revokedAt,
	)
	if err != nil {
		return session.CredentialRecord{}, err
	}
	r.IssuedAt = issuedAt.Time
	r.AccessExpiresAt = accessExp.Time
	r.RefreshExpiresAt = refreshExp.Time
	r.RevokedAt = revokedAt.Ptr()
	return r, nil
}
