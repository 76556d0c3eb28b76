package memory

import (
	"context"
	"sort"

	"github.com/ksti/meeting-room/internal/persistence"
	"github.com/ksti/meeting-room/internal/session"
)

type sessionStore struct{ s *Store }

// WithinUser runs fn under the store mutex, which covers every user.
func (ss sessionStore) WithinUser(ctx context.Context, _ string, fn func(tx session.Tx) error) error {
	return ss.Within(ctx, fn)
}

func (ss sessionStore) Within(ctx context.Context, fn func(tx session.Tx) error) error {
	return ss.s.run(ctx, func(st *state) error {
		return fn(sessionTx{st: st})
	})
}

type sessionTx struct{ st *state }

func (tx sessionTx) FindDevice(_ context.Context, userID, identifier string) (*session.Device, error) {
	for _, d := range tx.st.devices {
		if d.UserID == userID && d.Identifier == identifier {
			return session.RestoreDevice(d), nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (tx sessionTx) GetDevice(_ context.Context, deviceID string) (*session.Device, error) {
	d, ok := tx.st.devices[deviceID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return session.RestoreDevice(d), nil
}

func (tx sessionTx) ListDevices(_ context.Context, userID string) ([]*session.Device, error) {
	var records []session.DeviceRecord
	for _, d := range tx.st.devices {
		if d.UserID == userID {
			records = append(records, d)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	devices := make([]*session.Device, 0, len(records))
	for _, r := range records {
		devices = append(devices, session.RestoreDevice(r))
	}
	return devices, nil
}

func (tx sessionTx) SaveDevice(_ context.Context, device *session.Device) error {
	r := device.Record()
	for id, existing := range tx.st.devices {
		if id != r.ID && existing.UserID == r.UserID && existing.Identifier == r.Identifier {
			return persistence.ErrDuplicate
		}
	}
	tx.st.devices[r.ID] = r
	return nil
}

func (tx sessionTx) DeleteDevice(_ context.Context, deviceID string) error {
	if _, ok := tx.st.devices[deviceID]; !ok {
		return persistence.ErrNotFound
	}
	delete(tx.st.devices, deviceID)
	return nil
}

func (tx sessionTx) GetCredential(_ context.Context, id string) (session.Credential, error) {
	c, ok := tx.st.credentials[id]
	if !ok {
		return session.Credential{}, persistence.ErrNotFound
	}
	return session.RestoreCredential(cloneCredential(c)), nil
}

func (tx sessionTx) FindByAccessToken(_ context.Context, token string) (session.Credential, error) {
	return tx.findCredential(func(c session.CredentialRecord) bool { return c.AccessToken == token })
}

func (tx sessionTx) FindByRefreshToken(_ context.Context, token string) (session.Credential, error) {
	return tx.findCredential(func(c session.CredentialRecord) bool { return c.RefreshToken == token })
}

func (tx sessionTx) ListLiveCredentials(_ context.Context, userID string) ([]session.Credential, error) {
	var records []session.CredentialRecord
	for _, c := range tx.st.credentials {
		if c.UserID == userID && c.RevokedAt == nil {
			records = append(records, cloneCredential(c))
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	creds := make([]session.Credential, 0, len(records))
	for _, r := range records {
		creds = append(creds, session.RestoreCredential(r))
	}
	return creds, nil
}

func (tx sessionTx) SaveCredential(_ context.Context, credential session.Credential) error {
	tx.st.credentials[credential.ID()] = cloneCredential(credential.Record())
	return nil
}

func (tx sessionTx) findCredential(match func(session.CredentialRecord) bool) (session.Credential, error) {
	for _, c := range tx.st.credentials {
		if match(c) {
			return session.RestoreCredential(cloneCredential(c)), nil
		}
	}
	return session.Credential{}, persistence.ErrNotFound
}
